package parser

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"headless-sentinel/internal/types"
)

// MaxMessageLength bounds the stored message text (in runes)
const MaxMessageLength = 1000

const noMessage = "No message"

// Characters the XML 1.0 grammar forbids, plus the C1 control block that
// Get-WinEvent occasionally leaks from provider message tables.
var reInvalidXML = regexp.MustCompile(`[^\x09\x0A\x0D\x20-\x7E\x{A0}-\x{D7FF}\x{E000}-\x{FFFD}\x{10000}-\x{10FFFF}]`)

// SanitizeXML strips characters that would make the decoder reject the payload.
func SanitizeXML(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return reInvalidXML.ReplaceAllString(s, "")
}

type xmlEvent struct {
	XMLName xml.Name  `xml:"Event"`
	System  xmlSystem `xml:"System"`
	Data    []xmlData `xml:"EventData>Data"`
}

type xmlSystem struct {
	Provider struct {
		Name string `xml:"Name,attr"`
	} `xml:"Provider"`
	EventID     *xmlText `xml:"EventID"`
	Level       *xmlText `xml:"Level"`
	TimeCreated *struct {
		SystemTime string `xml:"SystemTime,attr"`
	} `xml:"TimeCreated"`
	Computer string `xml:"Computer"`
	Security struct {
		UserID string `xml:"UserID,attr"`
	} `xml:"Security"`
}

type xmlText struct {
	Value string `xml:",chardata"`
}

type xmlData struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

// ParseEventXML decodes one rendered Windows event (the output of ToXml())
// into a canonical Event. Failures are returned as *types.ParseError.
func ParseEventXML(host, category, payload string, ingestedAt time.Time) (*types.Event, error) {
	clean := strings.TrimSpace(SanitizeXML(payload))
	if clean == "" {
		return nil, &types.ParseError{Reason: "empty payload"}
	}

	var doc xmlEvent
	if err := xml.Unmarshal([]byte(clean), &doc); err != nil {
		return nil, &types.ParseError{Reason: "malformed xml", Err: err}
	}

	sys := doc.System
	if sys.EventID == nil || sys.Level == nil || sys.TimeCreated == nil {
		return nil, &types.ParseError{Reason: "missing EventID, Level or TimeCreated"}
	}

	code, err := strconv.Atoi(strings.TrimSpace(sys.EventID.Value))
	if err != nil {
		return nil, &types.ParseError{Reason: "bad EventID", Err: err}
	}

	level, err := strconv.Atoi(strings.TrimSpace(sys.Level.Value))
	if err != nil {
		return nil, &types.ParseError{Reason: "bad Level", Err: err}
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(sys.TimeCreated.SystemTime))
	if err != nil {
		return nil, &types.ParseError{Reason: "bad TimeCreated", Err: err}
	}

	source := strings.TrimSpace(sys.Provider.Name)
	if source == "" {
		source = "Unknown"
	}

	var parts []string
	named := make(map[string]string, len(doc.Data))
	for _, d := range doc.Data {
		v := strings.TrimSpace(d.Value)
		if d.Name != "" {
			named[d.Name] = v
		}
		if v != "" {
			parts = append(parts, v)
		}
	}

	message := noMessage
	if len(parts) > 0 {
		message = truncate(strings.Join(parts, " | "), MaxMessageLength)
	}

	return &types.Event{
		Timestamp:  ts.UTC(),
		Host:       host,
		Category:   category,
		EventCode:  code,
		Severity:   types.SeverityFromLevel(level),
		Source:     source,
		User:       principal(named, sys.Security.UserID),
		Message:    message,
		Raw:        clean,
		IngestedAt: ingestedAt.UTC(),
	}, nil
}

// principal prefers the account the event is about over the account that
// reported it. "-" is what Windows writes for "no account".
func principal(named map[string]string, sid string) string {
	for _, key := range []string{"TargetUserName", "SubjectUserName"} {
		if v := named[key]; v != "" && v != "-" {
			return v
		}
	}
	return sid
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
