// Package logfmt evaluates the per-task audit log format: an ordered
// sequence of literal, scripted, and variable items compiled from a
// format specification string.
package logfmt

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ItemType tags one compiled format item.
type ItemType int

const (
	// ItemString is a raw literal appended verbatim.
	ItemString ItemType = iota
	// ItemScript invokes a registered scripted callback with the task
	// as argument and appends its string return.
	ItemScript

	ItemMID
	ItemQID
	ItemUser
	ItemIP
	ItemLen
	ItemDNSReq
	ItemTimeReal
	ItemTimeVirtual
	ItemSMTPFrom
	ItemMIMEFrom
	ItemSMTPRcpt
	ItemSMTPRcpts
	ItemMIMERcpt
	ItemMIMERcpts
	ItemIsSpam
	ItemAction
	ItemScores
	ItemSymbols
)

// Flag modifies how an item is rendered.
type Flag uint32

const (
	// FlagCondition gates emission on the source being present.
	FlagCondition Flag = 1 << iota
	// FlagSymbolsScores appends "(score)" to each rendered symbol.
	FlagSymbolsScores
	// FlagSymbolsParams appends "{opt;opt;...}" to each rendered symbol.
	FlagSymbolsParams
)

// Item is one element of a compiled format.
type Item struct {
	Type  ItemType
	Flags Flag
	// Data holds the literal text (ItemString), the registry name
	// (ItemScript), or the content template of a variable, where "$"
	// is substituted with the resolved value. HasData distinguishes
	// an empty template from none.
	Data    string
	HasData bool
}

// Format is a compiled log format.
type Format []Item

// variables maps format specification names to item types and flags.
var variables = map[string]struct {
	typ   ItemType
	flags Flag
}{
	"mid":                   {ItemMID, 0},
	"qid":                   {ItemQID, 0},
	"user":                  {ItemUser, 0},
	"ip":                    {ItemIP, 0},
	"len":                   {ItemLen, 0},
	"dns_req":               {ItemDNSReq, 0},
	"time_real":             {ItemTimeReal, 0},
	"time_virtual":          {ItemTimeVirtual, 0},
	"smtp_from":             {ItemSMTPFrom, 0},
	"mime_from":             {ItemMIMEFrom, 0},
	"smtp_rcpt":             {ItemSMTPRcpt, 0},
	"smtp_rcpts":            {ItemSMTPRcpts, 0},
	"mime_rcpt":             {ItemMIMERcpt, 0},
	"mime_rcpts":            {ItemMIMERcpts, 0},
	"is_spam":               {ItemIsSpam, 0},
	"action":                {ItemAction, 0},
	"scores":                {ItemScores, 0},
	"symbols":               {ItemSymbols, 0},
	"symbols_scores":        {ItemSymbols, FlagSymbolsScores},
	"symbols_params":        {ItemSymbols, FlagSymbolsParams},
	"symbols_scores_params": {ItemSymbols, FlagSymbolsScores | FlagSymbolsParams},
}

// compiled caches formats by their specification string, so per-task
// rendering never re-parses the grammar.
var compiled, _ = lru.New[string, Format](64)

// Cached compiles spec, consulting the process-wide cache.
func Cached(spec string) (Format, error) {
	if f, ok := compiled.Get(spec); ok {
		return f, nil
	}
	var f, err = Compile(spec)
	if err != nil {
		return nil, err
	}
	compiled.Add(spec, f)
	return f, nil
}

// Compile parses a format specification:
//
//	literal text        appended verbatim
//	$$                  a literal "$"
//	$name / ${name}     a variable reference
//	$?name              a variable gated by its presence condition
//	$script:name        a scripted callback from the task's registry
//	...{template}       a content template directly following a
//	                    variable; "$" within it is substituted with
//	                    the resolved value
func Compile(spec string) (Format, error) {
	var f Format
	var lit []byte

	var flush = func() {
		if len(lit) > 0 {
			f = append(f, Item{Type: ItemString, Data: string(lit)})
			lit = nil
		}
	}

	for i := 0; i < len(spec); {
		if spec[i] != '$' {
			lit = append(lit, spec[i])
			i++
			continue
		}
		i++

		if i < len(spec) && spec[i] == '$' {
			lit = append(lit, '$')
			i++
			continue
		}

		var item Item
		if i+len("script:") <= len(spec) && spec[i:i+len("script:")] == "script:" {
			i += len("script:")
			var start = i
			for i < len(spec) && isNameByte(spec[i]) {
				i++
			}
			if i == start {
				return nil, fmt.Errorf("empty script name at offset %d", start)
			}
			item = Item{Type: ItemScript, Data: spec[start:i]}
		} else {
			if i < len(spec) && spec[i] == '?' {
				item.Flags |= FlagCondition
				i++
			}

			var name string
			if i < len(spec) && spec[i] == '{' {
				var end = i + 1
				for end < len(spec) && spec[end] != '}' {
					end++
				}
				if end == len(spec) {
					return nil, fmt.Errorf("unterminated variable reference at offset %d", i)
				}
				name, i = spec[i+1:end], end+1
			} else {
				var start = i
				for i < len(spec) && isNameByte(spec[i]) {
					i++
				}
				name = spec[start:i]
			}

			var v, ok = variables[name]
			if !ok {
				return nil, fmt.Errorf("unknown log variable %q", name)
			}
			item.Type = v.typ
			item.Flags |= v.flags

			if i < len(spec) && spec[i] == '{' {
				var end = i + 1
				for end < len(spec) && spec[end] != '}' {
					end++
				}
				if end == len(spec) {
					return nil, fmt.Errorf("unterminated content template at offset %d", i)
				}
				item.Data, item.HasData = spec[i+1:end], true
				i = end + 1
			}
		}

		flush()
		f = append(f, item)
	}

	flush()
	return f, nil
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}
