package agents

// InboundMessage is the normalized shape of a message event as delivered by
// the WhatsApp gateway webhook. Field names mirror the gateway payload keys.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	IsGroup   bool   `json:"isGroup"`
	GroupName string `json:"groupName"`
	PushName  string `json:"pushName"`
	HasMedia  bool   `json:"hasMedia"`
	MediaURL  string `json:"mediaUrl"`
	Caption   string `json:"caption"`
}

// MessageType returns the gateway message type, defaulting to "text" when the
// payload omitted it.
func (m *InboundMessage) MessageType() string {
	if m.Type == "" {
		return "text"
	}
	return m.Type
}

// Field resolves a template variable name to the matching message field.
// Unknown names resolve to the empty string.
func (m *InboundMessage) Field(name string) string {
	switch name {
	case "id":
		return m.ID
	case "from":
		return m.From
	case "body":
		return m.Body
	case "type":
		return m.MessageType()
	case "groupName":
		return m.GroupName
	case "pushName":
		return m.PushName
	case "mediaUrl":
		return m.MediaURL
	case "caption":
		return m.Caption
	default:
		return ""
	}
}
