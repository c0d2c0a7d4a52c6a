// Package statusmap translates internal lifecycle states into the partner's
// status vocabulary. DRAFT and CONFIRMED have no partner equivalent and are
// never sent outward.
package statusmap

import "catersync/internal/model"

var toPartner = map[model.Status]model.PartnerStatus{
	model.StatusAssigned:        model.PartnerConfirm,
	model.StatusArrivedAtVendor: model.PartnerReady,
	model.StatusEnRouteToClient: model.PartnerOnTheWay,
	model.StatusArrivedToClient: model.PartnerOnTheWay,
	model.StatusCompleted:       model.PartnerCompleted,
	model.StatusCancelled:       model.PartnerCancelled,
}

// Translate returns the partner status for s, or false when s has no partner equivalent.
func Translate(s model.Status) (model.PartnerStatus, bool) {
	p, ok := toPartner[s]
	return p, ok
}

// Entry is one row of the mapping table.
type Entry struct {
	Internal model.Status         `json:"internal"`
	Partner  *model.PartnerStatus `json:"partner"`
}

// Table lists every internal status with its partner value, nil when untranslatable.
func Table() []Entry {
	out := make([]Entry, 0, len(model.Statuses()))
	for _, s := range model.Statuses() {
		e := Entry{Internal: s}
		if p, ok := Translate(s); ok {
			e.Partner = &p
		}
		out = append(out, e)
	}
	return out
}
