package results

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jstemmer/go-junit-report/v2/junit"
)

// suite is a testsuite element that may nest further testsuites.
type suite struct {
	junit.Testsuite

	Suites []suite `xml:"testsuite"`
}

type suites struct {
	Suites []suite `xml:"testsuite"`
}

// ParseJUnit decodes a JUnit XML report into a result tree. Both a
// <testsuites> document and a bare <testsuite> root are accepted, and
// testsuites nested in other testsuites are walked depth first.
//
// Cases are grouped by their classname: the package is everything up to
// the last dot and the class is the remainder.
func ParseJUnit(data []byte) (*Tree, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var roots []suite

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("no testsuite element found")
			}

			return nil, fmt.Errorf("reading junit xml: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "testsuites":
			var doc suites
			if err := dec.DecodeElement(&doc, &start); err != nil {
				return nil, fmt.Errorf("decoding testsuites: %w", err)
			}

			roots = doc.Suites
		case "testsuite":
			var s suite
			if err := dec.DecodeElement(&s, &start); err != nil {
				return nil, fmt.Errorf("decoding testsuite: %w", err)
			}

			roots = []suite{s}
		default:
			return nil, fmt.Errorf("unexpected root element %q", start.Name.Local)
		}

		break
	}

	tree := &Tree{}

	for i := range roots {
		tree.addSuite(&roots[i])
	}

	return tree, nil
}

// addSuite adds the cases of s, then those of its nested suites.
func (t *Tree) addSuite(s *suite) {
	for _, tc := range s.Testcases {
		className := tc.Classname
		if className == "" {
			className = s.Name
		}

		pkgName, class := SplitClassName(className)

		t.addCases(pkgName, class, Case{
			Name:     tc.Name,
			FullName: className + "." + tc.Name,
			Duration: parseSeconds(tc.Time),
			Failed:   tc.Failure != nil || tc.Error != nil,
			Skipped:  tc.Skipped != nil,
		})
	}

	for i := range s.Suites {
		t.addSuite(&s.Suites[i])
	}
}

// parseSeconds parses a JUnit time attribute. Missing or malformed values
// are treated as zero.
func parseSeconds(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}

	return v
}
