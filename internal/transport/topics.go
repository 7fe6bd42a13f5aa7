// ABOUTME: Outbound topic names and JSON payloads shared with connected clients
// ABOUTME: Field names and topics are the client wire contract and must not change

package transport

// Outbound topics.
const (
	TopicTranscription = "transcription"
	TopicBroadcast     = "coordinator_broadcast"
	TopicPrivate       = "coordinator_private"
	TopicPoll          = "coordinator_poll"
	TopicPollEnd       = "coordinator_poll_end"
	TopicPopup         = "coordinator_popup"
	TopicGame          = "coordinator_game"
	TopicImage         = "coordinator_image"
)

// Transcription announces a finalized utterance or typed message.
// Timestamp is milliseconds since the Unix epoch.
type Transcription struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcast is a coordinator message to everyone.
type Broadcast struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewBroadcast builds a "broadcast" payload.
func NewBroadcast(message string) Broadcast {
	return Broadcast{Type: "broadcast", Message: message}
}

// Private is a coordinator message to a single participant.
type Private struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewPrivate builds a "private_message" payload.
func NewPrivate(message string) Private {
	return Private{Type: "private_message", Message: message}
}

// PollOpened announces a new poll. Timeout is in seconds.
type PollOpened struct {
	Type     string   `json:"type"`
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Timeout  int      `json:"timeout"`
}

// NewPollOpened builds a "poll" payload.
func NewPollOpened(id, question string, options []string, timeoutSeconds int) PollOpened {
	return PollOpened{Type: "poll", ID: id, Question: question, Options: options, Timeout: timeoutSeconds}
}

// PollEnded carries the answer -> vote count tally.
type PollEnded struct {
	Type    string         `json:"type"`
	Results map[string]int `json:"results"`
}

// NewPollEnded builds a "poll_ended" payload.
func NewPollEnded(results map[string]int) PollEnded {
	return PollEnded{Type: "poll_ended", Results: results}
}

// Popup asks clients to show a modal message.
type Popup struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewPopup builds a "popup" payload.
func NewPopup(message string) Popup {
	return Popup{Type: "popup", Message: message}
}

// Game starts an interactive game on clients.
type Game struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// NewGame builds a "game" payload.
func NewGame(description string) Game {
	return Game{Type: "game", Description: description}
}

// Image shows an image with a subtitle.
type Image struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Subtitle string `json:"subtitle"`
}

// NewImage builds an "image" payload.
func NewImage(url, subtitle string) Image {
	return Image{Type: "image", URL: url, Subtitle: subtitle}
}
