package importer

import (
	"encoding/json"
	"fmt"
)

// BitwardenParser parses Bitwarden unencrypted JSON exports. Only login
// items carry a password; other item types are skipped.
type BitwardenParser struct{}

const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

type bitwardenExport struct {
	Encrypted bool              `json:"encrypted"`
	Items     []bitwardenItem   `json:"items"`
	Folders   []bitwardenFolder `json:"folders"`
}

type bitwardenFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bitwardenItem struct {
	Type     int             `json:"type"`
	Name     string          `json:"name"`
	FolderID *string         `json:"folderId"`
	Login    *bitwardenLogin `json:"login"`
}

type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
}

type bitwardenURI struct {
	URI string `json:"uri"`
}

// Source implements Parser.
func (p *BitwardenParser) Source() Source { return SourceBitwarden }

// Parse implements Parser. The folder name becomes the category and the
// first URI the URL.
func (p *BitwardenParser) Parse(data []byte) (*Result, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("importer: failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("importer: encrypted Bitwarden exports are not supported")
	}

	folders := make(map[string]string, len(export.Folders))
	for _, f := range export.Folders {
		folders[f.ID] = f.Name
	}

	res := newResult()
	counter := 1
	for i := range export.Items {
		item := &export.Items[i]
		if item.Type != bitwardenTypeLogin {
			res.Skipped = append(res.Skipped, SkippedItem{
				OriginalName: item.Name,
				Reason:       "unsupported item type: " + bitwardenTypeName(item.Type),
			})
			continue
		}

		e := entry{name: item.Name}
		if item.FolderID != nil {
			e.category = folders[*item.FolderID]
		}
		if item.Login != nil {
			e.username = item.Login.Username
			e.password = item.Login.Password
			for _, u := range item.Login.URIs {
				if u.URI != "" {
					e.url = u.URI
					break
				}
			}
		}
		res.add(e, &counter, fmt.Sprintf("item %d", i+1))
	}
	return res, nil
}

func bitwardenTypeName(t int) string {
	switch t {
	case bitwardenTypeSecureNote:
		return "secure note"
	case bitwardenTypeCard:
		return "card"
	case bitwardenTypeIdentity:
		return "identity"
	default:
		return fmt.Sprintf("%d", t)
	}
}
