// ABOUTME: Package poll runs the room's single timed multiple-choice poll
// ABOUTME: A poll finalizes exactly once, on timeout or when every snapshotted participant answered

// Package poll implements the room poll state machine.
//
// At most one poll is open at a time. Create snapshots the connected
// participants, broadcasts the poll and schedules a deferred finalize at
// the deadline. RecordResponse stores or overwrites a participant's answer
// and finalizes early once the number of responders reaches the snapshot
// size.
//
// Both finalize paths race. The winner is decided by compare-and-clear of
// the active poll id under the engine mutex; the loser is a no-op. The
// winner tallies answers, broadcasts the results and calls the Notifier.
package poll
