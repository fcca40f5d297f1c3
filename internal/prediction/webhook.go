package prediction

import (
	"errors"

	"github.com/tidwall/gjson"
)

var ErrInvalidPayload = errors.New("invalid prediction webhook payload")

// WebhookJobParam is the query parameter naming the job on callback URLs.
const WebhookJobParam = "job_id"

// Webhook is the decoded completion callback. JobID comes from the callback
// URL, not the body.
type Webhook struct {
	ID     string
	JobID  string
	Status Status
	Output string
	Error  string
}

// Succeeded reports whether the prediction produced an output.
func (w Webhook) Succeeded() bool {
	return w.Status == StatusSucceeded
}

// ParseWebhook decodes a callback body. output may be a single URL or a list of
// URLs (the first is used); error may be a string or an object.
func ParseWebhook(body []byte) (Webhook, error) {
	if !gjson.ValidBytes(body) {
		return Webhook{}, ErrInvalidPayload
	}

	doc := gjson.ParseBytes(body)
	w := Webhook{
		ID:     doc.Get("id").String(),
		Status: Status(doc.Get("status").String()),
	}
	if w.ID == "" || w.Status == "" {
		return Webhook{}, ErrInvalidPayload
	}

	output := doc.Get("output")
	switch {
	case output.IsArray():
		if first := output.Get("0"); first.Exists() {
			w.Output = first.String()
		}
	case output.Type == gjson.String:
		w.Output = output.String()
	}

	errField := doc.Get("error")
	switch {
	case errField.IsObject():
		w.Error = errField.Get("detail").String()
		if w.Error == "" {
			w.Error = errField.Raw
		}
	case errField.Type == gjson.String:
		w.Error = errField.String()
	}

	return w, nil
}
