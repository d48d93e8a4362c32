package model

import "time"

// ValueKind identifies which branch of a TypedValue is populated.
type ValueKind string

const (
	KindText      ValueKind = "text"
	KindInteger   ValueKind = "integer"
	KindDecimal   ValueKind = "decimal"
	KindBoolean   ValueKind = "boolean"
	KindDate      ValueKind = "date"
	KindList      ValueKind = "list"
	KindMultiList ValueKind = "multilist"
	KindUser      ValueKind = "user"
)

// TypedValue is a tagged union over the value shapes that flow between Hub
// custom properties and Tracker custom fields. Exactly one field is
// populated; Kind says which one.
type TypedValue struct {
	Kind ValueKind

	Text      string
	Integer   int
	Decimal   float64
	Boolean   bool
	Date      time.Time
	List      string   // option id or name, depending on direction
	MultiList []string // option ids or names
	User      string   // Tracker login, or the decimal Hub user id on the Hub side
}

func Text(v string) TypedValue      { return TypedValue{Kind: KindText, Text: v} }
func Integer(v int) TypedValue       { return TypedValue{Kind: KindInteger, Integer: v} }
func Decimal(v float64) TypedValue   { return TypedValue{Kind: KindDecimal, Decimal: v} }
func Boolean(v bool) TypedValue      { return TypedValue{Kind: KindBoolean, Boolean: v} }
func Date(v time.Time) TypedValue    { return TypedValue{Kind: KindDate, Date: v.UTC()} }
func List(v string) TypedValue       { return TypedValue{Kind: KindList, List: v} }
func MultiList(v []string) TypedValue {
	return TypedValue{Kind: KindMultiList, MultiList: v}
}
func User(login string) TypedValue { return TypedValue{Kind: KindUser, User: login} }

// IsZero reports whether no value was ever set (used to distinguish an
// absent custom field from one whose value is the type's zero value).
func (v TypedValue) IsZero() bool {
	return v.Kind == ""
}
