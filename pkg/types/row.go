package types

// FlatRow is a single record of the flattened fact table: one
// string-coercible field per flat-table column, in flat-table order.
// Joins have already been applied upstream; this stage only reads fields
// by position.
type FlatRow []string

// Field returns the value at flat-table position idx and whether the
// position exists in this row. Rows shorter than the declared schema can
// occur with ragged delimited input; callers decide whether a missing
// field is a fault or a placeholder.
func (r FlatRow) Field(idx int) (string, bool) {
	if idx < 0 || idx >= len(r) {
		return "", false
	}
	return r[idx], true
}
