package importer

import (
	"fmt"
	"strings"
)

// OnePasswordParser parses 1Password CSV exports:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

const (
	op1ColTitle    = "Title"
	op1ColWebsite  = "Website"
	op1ColUsername = "Username"
	op1ColPassword = "Password"
	op1ColTags     = "Tags"
)

// Source implements Parser.
func (p *OnePasswordParser) Source() Source { return Source1Password }

// Parse implements Parser. The first tag becomes the category.
func (p *OnePasswordParser) Parse(data []byte) (*Result, error) {
	res := newResult()
	counter := 1

	identity := func(s string) string { return s }
	err := readCSV(data, identity, op1ColTitle, res, func(get func(string) string, rowNum int) {
		var category string
		for _, tag := range strings.Split(get(op1ColTags), ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				category = tag
				break
			}
		}
		res.add(entry{
			name:     get(op1ColTitle),
			username: get(op1ColUsername),
			password: get(op1ColPassword),
			url:      get(op1ColWebsite),
			category: category,
		}, &counter, fmt.Sprintf("row %d", rowNum))
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
