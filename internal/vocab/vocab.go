package vocab

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// PadToken is the reserved padding entry every vocabulary must carry.
// Its index doubles as the embedding padding row and the loss mask
// value.
const PadToken = "<pad>"

// Vocab is a closed bidirectional token/index mapping. It is fixed for
// the lifetime of a model: nothing mutates it after construction.
type Vocab struct {
	Tokens []string
	Index  map[string]int
}

func New(tokens []string) (*Vocab, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	index := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		if _, dup := index[tok]; dup {
			return nil, fmt.Errorf("duplicate token %q at index %d", tok, i)
		}
		index[tok] = i
	}
	if _, ok := index[PadToken]; !ok {
		return nil, fmt.Errorf("vocabulary missing %s entry", PadToken)
	}
	return &Vocab{Tokens: tokens, Index: index}, nil
}

// Load reads a newline-delimited token file, one token per line in
// index order. Blank lines are not valid tokens.
func Load(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	return New(tokens)
}

func (v *Vocab) Size() int {
	return len(v.Tokens)
}

func (v *Vocab) PadIndex() int {
	return v.Index[PadToken]
}

func (v *Vocab) Lookup(tok string) (int, bool) {
	i, ok := v.Index[tok]
	return i, ok
}

func (v *Vocab) Token(i int) (string, error) {
	if i < 0 || i >= len(v.Tokens) {
		return "", fmt.Errorf("index %d out of vocab range [0, %d)", i, len(v.Tokens))
	}
	return v.Tokens[i], nil
}

func (v *Vocab) Encode(tokens []string) ([]int, error) {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		id, ok := v.Index[tok]
		if !ok {
			return nil, fmt.Errorf("unknown token %q at position %d", tok, i)
		}
		ids[i] = id
	}
	return ids, nil
}

func (v *Vocab) Decode(ids []int) ([]string, error) {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tok, err := v.Token(id)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}
