package mimetree

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
)

// Parse builds a Node tree from a raw RFC 5322 message. Multipart bodies
// become interior nodes with one child per part; everything else becomes a
// leaf with its transfer encoding already undone.
func Parse(raw []byte) (*Node, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType = "text/plain"
		params = nil
	}

	root := &Node{
		MediaType: mediaType,
		Headers:   headerList(textproto.MIMEHeader(msg.Header)),
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseChildren(msg.Body, boundary, root); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return root, nil
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	root.Body = body
	return root, nil
}

// parseChildren reads the parts of a multipart body and appends them as
// children of parent, recursing into nested multipart parts.
func parseChildren(body io.Reader, boundary string, parent *Node) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		child := &Node{
			MediaType: mediaType,
			Filename:  extractFilename(part, params),
			Headers:   headerList(part.Header),
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseChildren(part, nestedBoundary, child); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
				continue
			}
			parent.Children = append(parent.Children, child)
			continue
		}

		content, err := readPartContent(part)
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}
		child.Body = content
		parent.Children = append(parent.Children, child)
	}

	return nil
}

// readPartContent reads the full content of a MIME part, undoing
// Content-Transfer-Encoding. Go's multipart reader handles quoted-printable
// internally; base64 is decoded here with an unpadded fallback.
func readPartContent(part *multipart.Part) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))

	raw, err := io.ReadAll(part)
	if err != nil {
		return nil, err
	}

	switch encoding {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	default:
		return raw, nil
	}
}

// extractFilename extracts the filename from a MIME part, checking both
// Content-Disposition and the Content-Type "name" parameter.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name, ok := params["name"]; ok && name != "" {
		return name
	}
	return ""
}

// headerList flattens a MIMEHeader map into an ordered header slice.
// Map iteration order is unspecified, so names are sorted for stable output.
func headerList(h textproto.MIMEHeader) []Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Header
	for _, name := range names {
		for _, value := range h[name] {
			out = append(out, Header{Name: name, Value: value})
		}
	}
	return out
}
