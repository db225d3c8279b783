package catalog

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/domain"
	idstore "warden/internal/identity/store"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
	wstrings "warden/pkg/platform/strings"
)

// ColumnKind is what an import column sets. The importer dispatches
// on this tag; column names never drive dynamic method lookup.
type ColumnKind int

const (
	// Identity columns locate or create the entry.
	ColType ColumnKind = iota
	ColApplication
	ColAttribute
	ColValue
	// Setter columns fill the located entry in.
	ColDisplayName
	ColRequestable
	ColOwner
	ColDescription
	ColClassifications
	ColExtended
)

// Column is one declared import column.
type Column struct {
	Kind ColumnKind
	// Name keeps the raw header name; for ColExtended it is the
	// extended attribute key.
	Name string
}

func parseColumn(name string) (Column, error) {
	switch strings.ToLower(name) {
	case "type":
		return Column{Kind: ColType, Name: name}, nil
	case "application":
		return Column{Kind: ColApplication, Name: name}, nil
	case "attribute":
		return Column{Kind: ColAttribute, Name: name}, nil
	case "value":
		return Column{Kind: ColValue, Name: name}, nil
	case "displayname":
		return Column{Kind: ColDisplayName, Name: name}, nil
	case "requestable":
		return Column{Kind: ColRequestable, Name: name}, nil
	case "owner":
		return Column{Kind: ColOwner, Name: name}, nil
	case "description":
		return Column{Kind: ColDescription, Name: name}, nil
	case "classifications":
		return Column{Kind: ColClassifications, Name: name}, nil
	default:
		if key, ok := strings.CutPrefix(name, "extended."); ok && key != "" {
			return Column{Kind: ColExtended, Name: key}, nil
		}
		return Column{}, fmt.Errorf("unknown column %q", name)
	}
}

// LineError records one rejected line. Bad lines never abort the
// file.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Result summarizes one import run.
type Result struct {
	Created int
	Updated int
	Errors  []LineError
}

// Importer loads catalog entries from the annotated CSV format: a
// `# col, col, ...` comment declares the columns, `# name=value`
// comments set defaults, and every remaining non-comment line is one
// entry.
type Importer struct {
	store  Store
	idents idstore.IdentityStore
	logger *slog.Logger
}

// NewImporter creates a catalog importer.
func NewImporter(s Store, idents idstore.IdentityStore, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: s, idents: idents, logger: logger}
}

// Import reads the whole stream. A missing column declaration is a
// configuration error and aborts immediately; everything per-line is
// collected into the result instead.
func (imp *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	scanner := bufio.NewScanner(r)
	res := &Result{}
	var columns []Column
	defaults := map[string]string{}
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if comment, ok := strings.CutPrefix(line, "#"); ok {
			comment = strings.TrimSpace(comment)
			if name, value, isDefault := strings.Cut(comment, "="); isDefault && !strings.Contains(name, ",") {
				defaults[strings.TrimSpace(name)] = strings.TrimSpace(value)
				continue
			}
			cols, err := parseColumns(comment)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			columns = cols
			continue
		}
		if columns == nil {
			return nil, fmt.Errorf("no column declaration before line %d", lineNo)
		}
		if err := imp.importLine(ctx, columns, defaults, line, res); err != nil {
			res.Errors = append(res.Errors, LineError{Line: lineNo, Err: err})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read import stream: %w", err)
	}
	if columns == nil {
		return nil, errors.New("import stream carries no column declaration")
	}
	return res, nil
}

func parseColumns(header string) ([]Column, error) {
	var out []Column
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		col, err := parseColumn(part)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	if len(out) == 0 {
		return nil, errors.New("empty column declaration")
	}
	return out, nil
}

// importLine runs the two phases: locate or create the entry by its
// identity columns, then apply every setter column.
func (imp *Importer) importLine(ctx context.Context, columns []Column, defaults map[string]string, line string, res *Result) error {
	fields, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return fmt.Errorf("parse line: %w", err)
	}
	if len(fields) != len(columns) {
		return fmt.Errorf("expected %d columns, got %d", len(columns), len(fields))
	}

	value := func(col Column, raw string) string {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return defaults[col.Name]
		}
		return raw
	}

	// Phase one: identity columns.
	typ := domain.TypeEntitlement
	var application, attribute, entValue string
	for i, col := range columns {
		v := value(col, fields[i])
		switch col.Kind {
		case ColType:
			if v != "" {
				typ = domain.EntitlementType(v)
			}
		case ColApplication:
			application = v
		case ColAttribute:
			attribute = v
		case ColValue:
			entValue = v
		}
	}
	if application == "" || entValue == "" {
		return errors.New("missing application or value")
	}

	ma, created, err := imp.locateOrCreate(ctx, typ, application, attribute, entValue)
	if err != nil {
		return err
	}

	// Phase two: setter columns.
	for i, col := range columns {
		if err := imp.applyColumn(ctx, ma, col, value(col, fields[i])); err != nil {
			return err
		}
	}
	if err := imp.store.Save(ctx, ma); err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	if created {
		res.Created++
	} else {
		res.Updated++
	}
	return nil
}

func (imp *Importer) locateOrCreate(ctx context.Context, typ domain.EntitlementType, application, attribute, value string) (*domain.ManagedAttribute, bool, error) {
	ma, err := imp.store.Lookup(ctx, typ, application, attribute, value)
	if err == nil {
		return ma, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup entry: %w", err)
	}
	ma = &domain.ManagedAttribute{
		ID:          uuid.NewString(),
		Type:        typ,
		Application: application,
		Attribute:   attribute,
		Value:       value,
		Created:     time.Now(),
	}
	if !ma.Valid() {
		return nil, false, errors.New("incomplete entry coordinates")
	}
	if err := imp.store.Create(ctx, ma); err != nil {
		return nil, false, fmt.Errorf("create entry: %w", err)
	}
	return ma, true, nil
}

func (imp *Importer) applyColumn(ctx context.Context, ma *domain.ManagedAttribute, col Column, v string) error {
	if v == "" {
		return nil
	}
	switch col.Kind {
	case ColDisplayName:
		ma.DisplayName = v
	case ColDescription:
		ma.Description = v
	case ColRequestable:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("bad requestable value %q", v)
		}
		ma.Requestable = b
	case ColClassifications:
		ma.Classifications = wstrings.DedupeAndTrimLower(strings.Split(strings.ReplaceAll(v, ";", ","), ","))
	case ColOwner:
		owner, err := imp.idents.FindUnique(ctx, store.Eq(idstore.IdentityFieldName, v))
		if err != nil {
			return fmt.Errorf("resolve owner %q: %w", v, err)
		}
		ma.OwnerID = owner.ID
	case ColExtended:
		if ma.Extended == nil {
			ma.Extended = map[string]any{}
		}
		ma.Extended[col.Name] = v
	}
	return nil
}
