package snapshot

import (
	"bytes"
	"context"
	"path"

	"archcore/internal/blob/core"
)

// Publisher mirrors export files to an object store under
// <prefix>/<packageID>/.
type Publisher struct {
	store  core.Store
	prefix string
}

// NewPublisher returns a publisher writing under prefix.
func NewPublisher(store core.Store, prefix string) *Publisher {
	return &Publisher{store: store, prefix: prefix}
}

// Publish uploads files and deletes objects of earlier exports that are no
// longer part of the package. It returns the number of uploaded objects.
func (p *Publisher) Publish(ctx context.Context, packageID string, files map[string][]byte) (int, error) {
	base := path.Join(p.prefix, packageID) + "/"
	keep := make(map[string]struct{}, len(files))
	for _, name := range sortedKeys(files) {
		key := base + name
		keep[key] = struct{}{}
		_, err := p.store.Put(ctx, key, bytes.NewReader(files[name]), core.PutOptions{
			ContentType: "application/json",
			Metadata:    map[string]string{"package": packageID},
		})
		if err != nil {
			return 0, err
		}
	}
	existing, err := p.store.List(ctx, base)
	if err != nil {
		return 0, err
	}
	for _, info := range existing {
		if _, ok := keep[info.Key]; ok {
			continue
		}
		if _, err := p.store.Delete(ctx, info.Key); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}
