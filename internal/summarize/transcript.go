package summarize

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"golang.org/x/text/language"
)

// Transcript is the transcript file chosen for an item.
type Transcript struct {
	Path string
	// Code is the language suffix of the file name ("pl" in "x.pl.srt"), if any.
	Code      string
	Preferred bool
}

// SelectTranscript picks the .srt file in dir whose language suffix matches
// preferred, falling back to the first transcript by name.
func SelectTranscript(dir string, preferred language.Tag) (Transcript, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Transcript{}, apperr.Wrap(err, apperr.ErrFileIO, "cannot list item folder").WithContext("dir", dir)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".srt") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return Transcript{}, apperr.New(apperr.ErrNotFound, "no transcript found").WithContext("dir", dir)
	}
	sort.Strings(names)

	for _, name := range names {
		code := languageSuffix(name)
		if code != "" && sameLanguage(code, preferred) {
			return Transcript{Path: filepath.Join(dir, name), Code: code, Preferred: true}, nil
		}
	}
	return Transcript{Path: filepath.Join(dir, names[0]), Code: languageSuffix(names[0])}, nil
}

// languageSuffix returns "pl" for "title.pl.srt" and "" for "title.srt".
func languageSuffix(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndex(stem, ".")
	if i < 0 {
		return ""
	}
	return stem[i+1:]
}

// sameLanguage compares base languages, so "pl", "pl-PL" and "pl-orig" all
// match Polish.
func sameLanguage(code string, preferred language.Tag) bool {
	want, _ := preferred.Base()
	if tag, err := language.Parse(code); err == nil {
		got, _ := tag.Base()
		return got == want
	}
	head, _, _ := strings.Cut(code, "-")
	if tag, err := language.Parse(head); err == nil {
		got, _ := tag.Base()
		return got == want
	}
	return false
}
