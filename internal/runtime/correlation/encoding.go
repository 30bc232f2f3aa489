package correlation

import (
	"encoding/base64"
	"strings"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

const (
	tagDownstream    = 'd'
	tagUpstream      = 'u'
	tagBidirectional = 'b'

	sectionSeparator = "||"
)

// EncodeDownstream encodes the downstream and bidirectional entries scoped
// ScopeAcrossTransports. It returns "" when there is nothing to send.
func (c *Context) EncodeDownstream() string {
	var sb strings.Builder
	encodeSection(&sb, tagDownstream, &c.downstream)
	encodeSection(&sb, tagBidirectional, &c.bidirectional)
	return sb.String()
}

// EncodeUpstream encodes the upstream and bidirectional entries scoped
// ScopeAcrossTransports. It returns "" when there is nothing to send.
func (c *Context) EncodeUpstream() string {
	var sb strings.Builder
	encodeSection(&sb, tagUpstream, &c.upstream)
	encodeSection(&sb, tagBidirectional, &c.bidirectional)
	return sb.String()
}

// Decode restores entries produced by EncodeDownstream or EncodeUpstream.
// Every restored entry is scoped ScopeAcrossTransports. Empty values are
// ignored. On error c is left unchanged.
func (c *Context) Decode(values ...string) error {
	scratch := &Context{}
	for _, value := range values {
		if value == "" {
			continue
		}
		for _, section := range strings.Split(value, sectionSeparator) {
			if err := scratch.decodeSection(value, section); err != nil {
				return err
			}
		}
	}

	c.downstream.copyFrom(&scratch.downstream)
	c.upstream.copyFrom(&scratch.upstream)
	c.bidirectional.copyFrom(&scratch.bidirectional)
	return nil
}

func (c *Context) decodeSection(value, section string) error {
	if len(section) < 3 || section[1] != '|' {
		return &errspkg.InvalidContextDataError{Value: value, Reason: "malformed section"}
	}

	var target *Data
	switch section[0] {
	case tagDownstream:
		target = &c.downstream
	case tagUpstream:
		target = &c.upstream
	case tagBidirectional:
		target = &c.bidirectional
	default:
		return &errspkg.InvalidContextDataError{Value: value, Reason: "unknown section tag " + string(section[0])}
	}

	for _, item := range strings.Split(section[2:], "|") {
		key, val, err := decodeEntry(item)
		if err != nil {
			return &errspkg.InvalidContextDataError{Value: value, Reason: err.Error()}
		}
		target.Set(key, val, ScopeAcrossTransports)
	}
	return nil
}

func encodeSection(sb *strings.Builder, tag byte, data *Data) {
	tagged := false
	for _, e := range data.Entries() {
		if e.Scope != ScopeAcrossTransports {
			continue
		}
		value, ok := e.Value.(string)
		if !ok {
			continue
		}

		if !tagged {
			if sb.Len() > 0 {
				sb.WriteString(sectionSeparator)
			}
			sb.WriteByte(tag)
			tagged = true
		}
		sb.WriteByte('|')

		if needsEscaping(e.Key) || needsEscaping(value) {
			sb.WriteByte(':')
			sb.WriteString(base64.StdEncoding.EncodeToString([]byte(e.Key)))
			sb.WriteByte(':')
			sb.WriteString(base64.StdEncoding.EncodeToString([]byte(value)))
			continue
		}
		sb.WriteString(e.Key)
		sb.WriteByte(':')
		sb.WriteString(value)
	}
}

// An empty key is escaped too, otherwise the entry would start with the
// base64 marker.
func needsEscaping(s string) bool {
	return s == "" || strings.ContainsAny(s, "|:")
}

type entryError string

func (e entryError) Error() string { return string(e) }

func decodeEntry(item string) (string, string, error) {
	if strings.HasPrefix(item, ":") {
		rawKey, rawValue, ok := strings.Cut(item[1:], ":")
		if !ok {
			return "", "", entryError("missing key separator in escaped entry")
		}
		key, err := base64.StdEncoding.DecodeString(rawKey)
		if err != nil {
			return "", "", entryError("invalid base64 key")
		}
		val, err := base64.StdEncoding.DecodeString(rawValue)
		if err != nil {
			return "", "", entryError("invalid base64 value")
		}
		return string(key), string(val), nil
	}

	key, val, ok := strings.Cut(item, ":")
	if !ok {
		return "", "", entryError("missing key separator")
	}
	return key, val, nil
}
