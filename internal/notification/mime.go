package notification

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"time"
)

// Message is one outgoing alert email with a recording attached.
type Message struct {
	From      string
	To        string
	Subject   string
	TextBody  string
	MessageID string

	// AttachmentPath is the clip file to attach; empty means no attachment.
	AttachmentPath string
}

const base64LineLength = 76

// BuildMIMEMessage renders the message as a multipart/mixed MIME document
// with a plain-text part and a base64 attachment, plus the auto-reply
// suppression headers alert mail should carry.
func BuildMIMEMessage(msg *Message) ([]byte, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)
	boundary := writer.Boundary()

	writeHeaders(&buf, msg, boundary)

	// Text part.
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "Content-Transfer-Encoding: 7bit\r\n")
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "%s\r\n", msg.TextBody)

	if msg.AttachmentPath != "" {
		if err := writeAttachmentPart(&buf, msg.AttachmentPath, boundary); err != nil {
			return nil, fmt.Errorf("attach %s: %w", msg.AttachmentPath, err)
		}
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

func writeHeaders(buf *bytes.Buffer, msg *Message, boundary string) {
	headers := make(textproto.MIMEHeader)
	headers.Set("From", msg.From)
	headers.Set("To", msg.To)
	headers.Set("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	headers.Set("Date", time.Now().Format(time.RFC1123Z))
	headers.Set("MIME-Version", "1.0")
	headers.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%s", boundary))
	if msg.MessageID != "" {
		headers.Set("Message-ID", fmt.Sprintf("<%s@motioncam.local>", msg.MessageID))
	}

	// Alert mail must not trigger vacation responders or bounce loops.
	headers.Set("Auto-Submitted", "auto-generated")
	headers.Set("X-Auto-Response-Suppress", "All")
	headers.Set("X-Mailer", "motioncam")

	for key, values := range headers {
		for _, value := range values {
			fmt.Fprintf(buf, "%s: %s\r\n", key, value)
		}
	}
	fmt.Fprintf(buf, "\r\n")
}

func writeAttachmentPart(buf *bytes.Buffer, path, boundary string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)

	fmt.Fprintf(buf, "--%s\r\n", boundary)
	fmt.Fprintf(buf, "Content-Type: application/octet-stream; name=%q\r\n", name)
	fmt.Fprintf(buf, "Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(buf, "Content-Disposition: attachment; filename=%q\r\n", name)
	fmt.Fprintf(buf, "\r\n")

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > base64LineLength {
		buf.WriteString(encoded[:base64LineLength])
		buf.WriteString("\r\n")
		encoded = encoded[base64LineLength:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
	return nil
}
