package correlate

import (
	"context"
	"errors"
	"fmt"

	"warden/internal/domain"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

// FindLink locates an existing account by native identity and/or
// display name. Native identity matches case-insensitively; display
// name exactly. Several matches correlate nothing.
func (e *Engine) FindLink(ctx context.Context, application, instance, nativeIdentity, displayName string) (*domain.Link, error) {
	var subs []store.Predicate
	if nativeIdentity != "" {
		subs = append(subs, store.EqFold(domain.LinkFieldNativeIdentity, nativeIdentity))
	}
	if displayName != "" {
		subs = append(subs, store.Eq(domain.LinkFieldDisplayName, displayName))
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("link correlation needs a native identity or display name")
	}
	subs = append(subs, store.Eq(domain.LinkFieldApplication, application))
	if instance != "" {
		subs = append(subs, store.Eq(domain.LinkFieldInstance, instance))
	}
	return e.findOneLink(ctx, store.And(subs...))
}

// FindLinkByAttribute locates an account through a schema correlation
// key. The attribute must be flagged as a correlation key; its value
// is matched against the indexed key column.
func (e *Engine) FindLinkByAttribute(ctx context.Context, app *domain.Application, attrName, value string) (*domain.Link, error) {
	if attrName == "" || value == "" {
		return nil, fmt.Errorf("link correlation by attribute needs a name and value")
	}
	attr := app.AccountSchema.Attribute(attrName)
	if attr == nil || attr.CorrelationKey == 0 {
		return nil, fmt.Errorf("attribute %q is not a correlation key on %s", attrName, app.Name)
	}
	column := domain.KeyColumn(attr.CorrelationKey)
	if column == "" {
		return nil, fmt.Errorf("correlation key index %d out of range on %s", attr.CorrelationKey, app.Name)
	}
	return e.findOneLink(ctx, store.And(
		store.Eq(domain.LinkFieldApplication, app.Name),
		store.Eq(column, value),
	))
}

// FindLinkByUUID locates an account by its connector uuid.
func (e *Engine) FindLinkByUUID(ctx context.Context, application, uuid string) (*domain.Link, error) {
	return e.findOneLink(ctx, store.And(
		store.Eq(domain.LinkFieldApplication, application),
		store.Eq(domain.LinkFieldUUID, uuid),
	))
}

func (e *Engine) findOneLink(ctx context.Context, pred store.Predicate) (*domain.Link, error) {
	link, err := e.links.FindUnique(ctx, pred)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, sentinel.ErrAmbiguous) {
			e.logger.Error("several accounts match link correlation", "predicate", pred.String())
			return nil, nil
		}
		return nil, err
	}
	return link, nil
}
