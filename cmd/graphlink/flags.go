package main

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"graphlink/internal/domain"
	"graphlink/internal/usecase/querydoc"
)

// cliFlags holds everything the client commands accept after the command
// name.
type cliFlags struct {
	Args     []string
	Params   *querydoc.Params
	Hints    map[string]string
	Select   string
	ID       string
	Type     string
	From     string
	To       string
	Name     string
	Attrs    map[string]any
	AttrDefs []domain.AttrDef
	Edges    []domain.EdgeKey
	Commit   bool
	Every    string
	Record   string
	Limit    int
	Prune    time.Duration
}

// valueFlags take the next argument (or "=value") as their value.
var valueFlags = map[string]bool{
	"--config": true, "--param": true, "--json-param": true, "--hint": true,
	"--select": true, "--id": true, "--type": true, "--from": true, "--to": true,
	"--name": true, "--attr": true, "--attr-def": true, "--edge": true,
	"--every": true, "--record": true, "--limit": true, "--prune": true,
}

func parseFlags(args []string) (cliFlags, error) {
	flags := cliFlags{
		Params: querydoc.NewParams(),
		Hints:  make(map[string]string),
		Attrs:  make(map[string]any),
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			flags.Args = append(flags.Args, arg)
			continue
		}
		if arg == "--commit" {
			flags.Commit = true
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		if !valueFlags[name] {
			return flags, usageError("unknown flag %s", name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return flags, usageError("flag %s needs a value", name)
			}
			i++
			value = args[i]
		}
		if err := flags.set(name, value); err != nil {
			return flags, err
		}
	}
	return flags, nil
}

func (f *cliFlags) set(name, value string) error {
	switch name {
	case "--config":
		// Read by configPath.
	case "--param":
		k, v, err := pair(name, value)
		if err != nil {
			return err
		}
		f.Params.Set(k, scalar(v))
	case "--json-param":
		k, v, err := pair(name, value)
		if err != nil {
			return err
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return usageError("%s %s: %v", name, k, err)
		}
		f.Params.Set(k, decoded)
	case "--hint":
		k, v, err := pair(name, value)
		if err != nil {
			return err
		}
		f.Hints[k] = v
	case "--attr":
		k, v, err := pair(name, value)
		if err != nil {
			return err
		}
		f.Attrs[k] = scalar(v)
	case "--attr-def":
		def, err := parseAttrDef(value)
		if err != nil {
			return err
		}
		f.AttrDefs = append(f.AttrDefs, def)
	case "--edge":
		parts := strings.Split(value, ":")
		if len(parts) != 3 {
			return usageError("--edge %q: want from:to:type", value)
		}
		f.Edges = append(f.Edges, domain.EdgeKey{From: parts[0], To: parts[1], Type: parts[2]})
	case "--select":
		f.Select = value
	case "--id":
		f.ID = value
	case "--type":
		f.Type = value
	case "--from":
		f.From = value
	case "--to":
		f.To = value
	case "--name":
		f.Name = value
	case "--every":
		f.Every = value
	case "--record":
		f.Record = value
	case "--limit":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return usageError("--limit %q: want a non-negative integer", value)
		}
		f.Limit = n
	case "--prune":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return usageError("--prune %q: want a positive duration", value)
		}
		f.Prune = d
	}
	return nil
}

func pair(flag, value string) (string, string, error) {
	k, v, ok := strings.Cut(value, "=")
	if !ok || k == "" {
		return "", "", usageError("%s %q: want key=value", flag, value)
	}
	return k, v, nil
}

// scalar turns "true" and "false" into booleans; everything else stays a
// string, matching the types the document builder infers.
func scalar(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

// parseAttrDef reads "name:Type", with a trailing "!" marking the
// attribute required.
func parseAttrDef(value string) (domain.AttrDef, error) {
	name, typ, ok := strings.Cut(value, ":")
	if !ok || name == "" || typ == "" {
		return domain.AttrDef{}, usageError("--attr-def %q: want name:Type", value)
	}
	def := domain.AttrDef{Name: name, Type: typ}
	if t, required := strings.CutSuffix(typ, "!"); required {
		def.Type, def.Required = t, true
	}
	return def, nil
}
