package tree

import (
	"bufio"
	"io"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// parserMode tells what the next Newick token means.
type parserMode int

const (
	modeName parserMode = iota
	modeLength
	modeClass
)

// IsSpecial returns true for the Newick punctuation.
func IsSpecial(c rune) bool {
	switch c {
	case '(', ')', ':', '#', ';', ',':
		return true
	}
	return false
}

// NewickSplit is a bufio.SplitFunc tokenizing Newick strings.
func NewickSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	// Skip leading spaces; and return 1-char tokens.
	for width := 0; start < len(data); start += width {
		var r rune
		r, width = utf8.DecodeRune(data[start:])
		if IsSpecial(r) {
			return start + width, data[start : start+width], nil
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// Scan until space or special character.
	for width, i := 0, start; i < len(data); i += width {
		var r rune
		r, width = utf8.DecodeRune(data[i:])
		if unicode.IsSpace(r) || IsSpecial(r) {
			return i, data[start:i], nil
		}
	}
	// If we're at EOF, we have a final, non-empty, non-terminated word. Return it.
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	// Request more data.
	return 0, nil, nil
}

// ParseNewick parses a rooted binary tree in Newick format. Branch
// lengths are converted to heights.
func ParseNewick(rd io.Reader) (*Tree, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Split(NewickSplit)

	root := NewNode(nil, 0)
	node := root
	mode := modeName

	for scanner.Scan() {
		text := scanner.Text()
		switch text {
		case "(":
			node = NewNode(node, 0)
		case ",":
			if node.Parent == nil {
				return nil, errors.New("top level comma mismatch")
			}
			node = NewNode(node.Parent, 0)
		case ")":
			if node.Parent == nil {
				return nil, errors.New("brackets mismatch")
			}
			node = node.Parent
		case "#":
			mode = modeClass
		case ":":
			mode = modeLength
		case ";":
			if node != root {
				return nil, errors.New("brackets mismatch")
			}
			return New(root)
		default:
			switch mode {
			case modeLength:
				l, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "bad branch length %q", text)
				}
				if l < 0 {
					return nil, errors.Errorf("negative branch length %v", l)
				}
				node.length = l
			case modeClass:
				cl, err := strconv.ParseInt(text, 0, 0)
				if err != nil {
					return nil, errors.Wrapf(err, "bad branch class %q", text)
				}
				node.Class = int(cl)
			default:
				node.Name = text
			}
			mode = modeName
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if node != root {
		return nil, errors.New("brackets mismatch")
	}
	return New(root)
}
