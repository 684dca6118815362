package charset

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// commonCharsets are tried right after the platform default, roughly in
// order of how often they show up on the web. Alphabetical order would put
// UTF-8 near the end of a very long list.
var commonCharsets = []string{
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

// universe lists every encoding the platform can decode, in a fixed order.
func universe() [][]encoding.Encoding {
	return [][]encoding.Encoding{
		unicode.All,
		utf32.All,
		charmap.All,
		japanese.All,
		korean.All,
		simplifiedchinese.All,
		traditionalchinese.All,
	}
}

// remaining returns the whole universe as candidates. Callers de-duplicate.
func remaining() []Candidate {
	var out []Candidate
	for _, group := range universe() {
		for _, enc := range group {
			out = append(out, Candidate{Name: canonicalName(enc), enc: enc})
		}
	}
	return out
}

// aliases maps registered names that have no decoder of their own to a
// superset decoder. The candidate keeps the alias as its name.
var aliases = map[string]Candidate{
	"gb2312": {Name: "GB2312", enc: simplifiedchinese.GBK},
}

// canonicalName prefers the MIME name (ISO-8859-1) over the IANA one
// (ISO_8859-1:1987).
func canonicalName(enc encoding.Encoding) string {
	if name, err := ianaindex.MIME.Name(enc); err == nil && name != "" {
		return name
	}
	if name, err := ianaindex.IANA.Name(enc); err == nil && name != "" {
		return name
	}
	return fmt.Sprint(enc)
}

// lookup resolves a charset name through the alias table, then the IANA
// registry, then against the universe by canonical name.
func lookup(name string) (Candidate, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Candidate{}, false
	}
	if c, ok := aliases[strings.ToLower(name)]; ok {
		return c, true
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return Candidate{Name: canonicalName(enc), enc: enc}, true
	}
	for _, c := range remaining() {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Candidate{}, false
}

func mustLookup(name string) Candidate {
	c, ok := lookup(name)
	if !ok {
		panic("charset: builtin charset missing: " + name)
	}
	return c
}

// platformDefault derives the default charset from the locale environment,
// e.g. "de_DE.ISO-8859-15@euro" yields "ISO-8859-15". Without a codeset it
// is UTF-8.
func platformDefault() string {
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if i := strings.IndexByte(v, '@'); i >= 0 {
			v = v[:i]
		}
		if i := strings.IndexByte(v, '.'); i >= 0 && i+1 < len(v) {
			return v[i+1:]
		}
		break
	}
	return "UTF-8"
}
