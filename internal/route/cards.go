// SPDX-License-Identifier: MIT
package route

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Card is one sound card known to the host.
type Card struct {
	Index int
	ID    string
	Name  string
}

func (c Card) key() string {
	return strconv.Itoa(c.Index) + ":" + c.ID
}

// Lister returns the cards currently attached.
type Lister func() ([]Card, error)

var (
	// /proc/asound/cards: " 1 [CODEC          ]: USB-Audio - USB Audio CODEC"
	procCardPattern = regexp.MustCompile(`^\s*(\d+)\s+\[(\w+)\s*\]:\s*(.*)$`)
	// arecord -l: "card 1: CODEC [USB Audio CODEC], device 0: USB Audio [USB Audio]"
	arecordCardPattern = regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`)
)

// ParseCards reads a card list in either the /proc/asound/cards or the
// `arecord -l` format. Cards listed more than once are reported once.
func ParseCards(r io.Reader) ([]Card, error) {
	var cards []Card
	seen := make(map[int]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		var card Card
		if m := procCardPattern.FindStringSubmatch(line); m != nil {
			card = Card{ID: m[2], Name: procCardName(m[3])}
			card.Index, _ = strconv.Atoi(m[1])
		} else if m := arecordCardPattern.FindStringSubmatch(line); m != nil {
			card = Card{ID: m[2], Name: m[3]}
			card.Index, _ = strconv.Atoi(m[1])
		} else {
			continue
		}

		if seen[card.Index] {
			continue
		}
		seen[card.Index] = true
		cards = append(cards, card)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read card list: %w", err)
	}
	return cards, nil
}

// procCardName drops the driver prefix: "USB-Audio - USB Audio CODEC".
func procCardName(s string) string {
	if _, name, ok := strings.Cut(s, " - "); ok {
		return strings.TrimSpace(name)
	}
	return strings.TrimSpace(s)
}

// FileLister lists cards by parsing the file at path, normally
// /proc/asound/cards.
func FileLister(path string) Lister {
	return func() ([]Card, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ParseCards(f)
	}
}
