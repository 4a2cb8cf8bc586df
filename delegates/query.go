package delegates

import (
	"cmp"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"chain-gateway/models"
)

const defaultLimit = 10

// GetDelegates filters, sorts and pages the current registry snapshot. Exact filters that
// match nothing return models.ErrNotFound together with the empty result.
func (e *Engine) GetDelegates(p models.DelegateParams) (models.Result[models.Delegate], error) {
	var all []models.Delegate
	if snap := e.snap.Load(); snap != nil {
		all = snap.delegates
	}

	filtered := filter(all, p)
	sortDelegates(filtered, p.Sort)

	start, end := models.Page{Offset: p.Offset, Limit: p.Limit}.Bounds(len(filtered), defaultLimit)
	res := models.NewResult(filtered[start:end], start, len(filtered))
	if p.HasExactFilter() && len(filtered) == 0 {
		return res, models.ErrNotFound
	}
	return res, nil
}

// GetNextForgers pages the current forger rotation.
func (e *Engine) GetNextForgers(page models.Page) models.Result[models.Delegate] {
	var forgers []models.Delegate
	if snap := e.snap.Load(); snap != nil {
		forgers = snap.forgers
	}
	start, end := page.Bounds(len(forgers), defaultLimit)
	return models.NewResult(append([]models.Delegate(nil), forgers[start:end]...), start, len(forgers))
}

// filter returns a fresh slice, so callers may sort it.
func filter(all []models.Delegate, p models.DelegateParams) []models.Delegate {
	var match func(models.Delegate) bool
	switch {
	case p.Address != "":
		match = func(d models.Delegate) bool { return d.Address == p.Address }
	case p.PublicKey != "":
		match = func(d models.Delegate) bool { return d.PublicKey == p.PublicKey }
	case p.SecondPublicKey != "":
		match = func(d models.Delegate) bool { return d.SecondPublicKey == p.SecondPublicKey }
	case p.Username != "":
		match = func(d models.Delegate) bool { return d.Username == p.Username }
	case p.Search != "":
		if re, err := regexp.Compile("(?i)" + p.Search); err == nil {
			match = func(d models.Delegate) bool { return re.MatchString(d.Username) }
		} else {
			needle := strings.ToLower(p.Search)
			match = func(d models.Delegate) bool { return strings.Contains(strings.ToLower(d.Username), needle) }
		}
	default:
		return append([]models.Delegate(nil), all...)
	}

	out := make([]models.Delegate, 0)
	for _, d := range all {
		if match(d) {
			out = append(out, d)
		}
	}
	return out
}

// sortDelegates applies a "field:direction" specifier, rank:asc by default. Unknown fields
// keep the snapshot order.
func sortDelegates(ds []models.Delegate, order string) {
	if order == "" {
		order = "rank:asc"
	}
	field, dir, _ := strings.Cut(order, ":")
	desc := dir == "desc"
	value := fieldValue(field)
	if value == nil {
		return
	}
	sort.SliceStable(ds, func(i, j int) bool {
		c := compareValues(value(ds[i]), value(ds[j]))
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func fieldValue(field string) func(models.Delegate) string {
	switch field {
	case "rank":
		return func(d models.Delegate) string { return strconv.Itoa(d.Rank) }
	case "delegateWeight", "weight":
		return func(d models.Delegate) string { return strconv.FormatUint(d.Weight, 10) }
	case "username":
		return func(d models.Delegate) string { return d.Username }
	case "address":
		return func(d models.Delegate) string { return d.Address }
	case "publicKey":
		return func(d models.Delegate) string { return d.PublicKey }
	case "status":
		return func(d models.Delegate) string { return string(d.Status) }
	default:
		return nil
	}
}

// compareValues compares numerically when both values parse as numbers.
func compareValues(a, b string) int {
	if ua, err := strconv.ParseUint(a, 10, 64); err == nil {
		if ub, err := strconv.ParseUint(b, 10, 64); err == nil {
			return cmp.Compare(ua, ub)
		}
	}
	if fa, err := strconv.ParseFloat(a, 64); err == nil {
		if fb, err := strconv.ParseFloat(b, 64); err == nil {
			return cmp.Compare(fa, fb)
		}
	}
	return strings.Compare(a, b)
}
