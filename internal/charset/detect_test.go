package charset

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

const sampleICS = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nBEGIN:VEVENT\r\nSUMMARY:Übung Programmierung\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func clearLocale(t *testing.T) {
	t.Helper()
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_CTYPE", "")
	t.Setenv("LANG", "")
}

func utf16le(t *testing.T, s string) []byte {
	t.Helper()
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode utf-16le: %v", err)
	}
	return b
}

func latin1(t *testing.T, s string) []byte {
	t.Helper()
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode latin1: %v", err)
	}
	return b
}

func TestDetect_PriorityCharsetWins(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector("UTF-16LE")
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	m, err := d.Detect(utf16le(t, sampleICS), "BEGIN:VCALENDAR", "END:VCALENDAR")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if m.Charset != "UTF-16LE" {
		t.Fatalf("charset = %q, want UTF-16LE", m.Charset)
	}
	if m.Text != sampleICS {
		t.Fatalf("decoded text mismatch:\n%q\nwant\n%q", m.Text, sampleICS)
	}
}

func TestDetect_FindsUTF16WithoutPriority(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector()
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	m, err := d.Detect(utf16le(t, sampleICS), "BEGIN:VCALENDAR", "END:VCALENDAR")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if m.Charset != "UTF-16LE" {
		t.Fatalf("charset = %q, want UTF-16LE", m.Charset)
	}
	if m.Text != sampleICS {
		t.Fatalf("decoded text mismatch: %q", m.Text)
	}
}

func TestDetect_EveryHintMustMatch(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector("UTF-8", "ISO-8859-1")
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	// Under UTF-8 the first hint is present but the umlauts are not.
	text := "BEGIN:VCALENDAR\nSUMMARY:Grüße\nEND:VCALENDAR\n"
	m, err := d.Detect(latin1(t, text), "BEGIN:VCALENDAR", "Grüße")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if m.Charset != "ISO-8859-1" {
		t.Fatalf("charset = %q, want ISO-8859-1", m.Charset)
	}
	if m.Text != text {
		t.Fatalf("decoded text mismatch: %q", m.Text)
	}
}

func TestDetect_NoMatch(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector()
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	_, err = d.Detect([]byte("BEGIN:VCALENDAR"), "BEGIN:VCALENDAR", "THIS HINT IS NOWHERE")
	if !errors.Is(err, ErrNoEncodingMatched) {
		t.Fatalf("err = %v, want ErrNoEncodingMatched", err)
	}
}

func TestDetect_NoHintsTakesFirstCandidate(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector("windows-1252")
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	m, err := d.Detect([]byte("plain"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if m.Charset != d.Candidates()[0] || m.Text != "plain" {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestNewDetector_UnknownPriority(t *testing.T) {
	if _, err := NewDetector("no-such-charset"); err == nil {
		t.Fatal("expected error for unknown priority charset")
	}
}

func TestCandidates_OrderAndUniqueness(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector("UTF-16LE", "utf-16le", "UTF-8")
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	names := d.Candidates()
	if len(names) < len(commonCharsets) {
		t.Fatalf("suspiciously short candidate list: %d", len(names))
	}
	if names[0] != "UTF-16LE" || names[1] != "UTF-8" {
		t.Fatalf("priority not honored: %v", names[:3])
	}

	seen := make(map[string]bool)
	for _, n := range names {
		k := strings.ToLower(n)
		if seen[k] {
			t.Fatalf("duplicate candidate %q", n)
		}
		seen[k] = true
	}

	// The common list follows the platform default (UTF-8, already listed).
	if names[2] != "ISO-8859-1" {
		t.Fatalf("expected ISO-8859-1 after priority and default, got %q", names[2])
	}

	again, err := NewDetector("UTF-16LE", "utf-16le", "UTF-8")
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	if !slices.Equal(names, again.Candidates()) {
		t.Fatal("candidate order is not stable across detectors")
	}
}

func TestPlatformDefaultFromLocale(t *testing.T) {
	clearLocale(t)
	t.Setenv("LANG", "de_DE.ISO-8859-15@euro")
	if got := platformDefault(); got != "ISO-8859-15" {
		t.Fatalf("platformDefault = %q", got)
	}

	d, err := NewDetector("UTF-16LE")
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	if got := d.Candidates()[1]; got != "ISO-8859-15" {
		t.Fatalf("second candidate = %q, want ISO-8859-15", got)
	}

	clearLocale(t)
	t.Setenv("LANG", "C")
	if got := platformDefault(); got != "UTF-8" {
		t.Fatalf("platformDefault without codeset = %q", got)
	}
}

func TestDetect_Deterministic(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector()
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	data := latin1(t, "BEGIN:VCALENDAR\nLOCATION:Hörsaal\nEND:VCALENDAR\n")

	first, err := d.Detect(data, "BEGIN:VCALENDAR", "Hörsaal")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for i := 0; i < 5; i++ {
		m, err := d.Detect(data, "BEGIN:VCALENDAR", "Hörsaal")
		if err != nil || m != first {
			t.Fatalf("run %d: got %+v, %v; want %+v", i, m, err, first)
		}
	}
}

func TestDetectParallel_MatchesSequential(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector()
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	inputs := []struct {
		data  []byte
		hints []string
	}{
		{utf16le(t, sampleICS), []string{"BEGIN:VCALENDAR", "END:VCALENDAR"}},
		{latin1(t, "BEGIN:VCALENDAR\nGrüße\nEND:VCALENDAR"), []string{"BEGIN:VCALENDAR", "Grüße"}},
		{[]byte(sampleICS), []string{"BEGIN:VCALENDAR", "Übung"}},
		{[]byte("nothing"), []string{"absent"}},
	}
	for i, in := range inputs {
		want, wantErr := d.Detect(in.data, in.hints...)
		for _, workers := range []int{0, 2, 8, 64} {
			got, err := d.DetectParallel(in.data, workers, in.hints...)
			if got != want || !errors.Is(err, wantErr) && err != wantErr {
				t.Fatalf("input %d workers %d: got %+v/%v, want %+v/%v", i, workers, got, err, want, wantErr)
			}
		}
	}
}

func TestCommonCharsets_AllResolve(t *testing.T) {
	for _, name := range commonCharsets {
		c, ok := lookup(name)
		if !ok {
			t.Fatalf("common charset %q does not resolve", name)
		}
		if c.Name != name {
			t.Fatalf("lookup(%q).Name = %q", name, c.Name)
		}
	}
}

func TestCandidates_CommonTierByName(t *testing.T) {
	clearLocale(t)
	d, err := NewDetector()
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	want := []string{
		"UTF-8",
		"ISO-8859-1",
		"windows-1251",
		"US-ASCII",
		"Shift_JIS",
		"GB2312",
		"windows-1252",
		"EUC-KR",
		"EUC-JP",
		"GBK",
		"UTF-16",
		"UTF-16LE",
		"UTF-16BE",
		"ISO-8859-2",
		"Big5",
		"ISO-8859-15",
		"windows-1250",
		"ISO-8859-9",
		"windows-1254",
		"windows-874",
	}
	got := d.Candidates()
	if len(got) < len(want) {
		t.Fatalf("only %d candidates", len(got))
	}
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("candidate %d = %q, want %q (all: %v)", i, got[i], name, got[:len(want)])
		}
	}
}

func TestDetect_ReportsMIMENames(t *testing.T) {
	clearLocale(t)
	cases := []struct {
		enc  []byte
		hint string
		want string
	}{
		{mustEncode(t, charmap.ISO8859_2.NewEncoder(), "Łódź"), "Łódź", "ISO-8859-2"},
		{mustEncode(t, japanese.EUCJP.NewEncoder(), "日本語"), "日本語", "EUC-JP"},
	}
	for _, tc := range cases {
		d, err := NewDetector(tc.want)
		if err != nil {
			t.Fatalf("NewDetector(%q): %v", tc.want, err)
		}
		m, err := d.Detect(tc.enc, tc.hint)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if m.Charset != tc.want || m.Text != tc.hint {
			t.Fatalf("got %q/%q, want %q/%q", m.Charset, m.Text, tc.want, tc.hint)
		}
	}
}

func TestLookup_GB2312UsesGBKDecoder(t *testing.T) {
	c, ok := lookup("gb2312")
	if !ok || c.Name != "GB2312" {
		t.Fatalf("lookup(gb2312) = %+v, %v", c, ok)
	}
	data := mustEncode(t, simplifiedchinese.GBK.NewEncoder(), "课程表")
	if got := c.Decode(data); got != "课程表" {
		t.Fatalf("Decode = %q", got)
	}
}

func mustEncode(t *testing.T, enc *encoding.Encoder, s string) []byte {
	t.Helper()
	b, err := enc.Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode %q: %v", s, err)
	}
	return b
}
