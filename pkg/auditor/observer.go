package auditor

import "github.com/dbsentry/pgauditor/pkg/catalog"

// Observer receives progress callbacks while an audit runs. It replaces any
// ambient console state: hosts inject their own implementation, tests
// inject a recording one.
type Observer interface {
	CategoryStarted(category catalog.Category)
	CategoryFinished(category catalog.Category, issues int)
	CategoryFailed(category catalog.Category, err error)
}

// NopObserver ignores all progress callbacks.
type NopObserver struct{}

func (NopObserver) CategoryStarted(catalog.Category)          {}
func (NopObserver) CategoryFinished(catalog.Category, int)    {}
func (NopObserver) CategoryFailed(catalog.Category, error)    {}

var _ Observer = NopObserver{}
