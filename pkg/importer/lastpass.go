package importer

import (
	"fmt"
	"strings"
)

// LastPassParser parses LastPass CSV exports:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColName     = "name"
	lpColGrouping = "grouping"

	lastPassSecureNoteURL = "http://sn"
)

// Source implements Parser.
func (p *LastPassParser) Source() Source { return SourceLastPass }

// Parse implements Parser. Values are HTML-entity decoded; secure notes
// carry no password and are skipped.
func (p *LastPassParser) Parse(data []byte) (*Result, error) {
	res := newResult()
	counter := 1

	err := readCSV(data, strings.ToLower, lpColName, res, func(get func(string) string, rowNum int) {
		value := func(col string) string { return DecodeHTMLEntities(get(col)) }

		u := value(lpColURL)
		if u == lastPassSecureNoteURL {
			u = ""
		}
		res.add(entry{
			name:     value(lpColName),
			username: value(lpColUsername),
			password: value(lpColPassword),
			url:      u,
			category: value(lpColGrouping),
		}, &counter, fmt.Sprintf("row %d", rowNum))
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
