package postgres

import (
	"reflect"
	"sync"
)

// columnPlan is the cached mapping of a struct type onto table columns.
type columnPlan struct {
	columns []string
	// index paths into the struct, parallel to columns
	paths [][]int
}

var plans sync.Map // reflect.Type -> *columnPlan

func planFor(t reflect.Type) *columnPlan {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := plans.Load(t); ok {
		return cached.(*columnPlan)
	}
	plan := &columnPlan{}
	if t.Kind() == reflect.Struct {
		collectColumns(t, nil, plan)
	}
	actual, _ := plans.LoadOrStore(t, plan)
	return actual.(*columnPlan)
}

// collectColumns walks embedded structs depth-first so columns keep
// declaration order: entity base fields first, then the document's own.
func collectColumns(t reflect.Type, prefix []int, plan *columnPlan) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		path := append(append([]int(nil), prefix...), i)

		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectColumns(f.Type, path, plan)
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "" || tag == "-" || !f.IsExported() {
			continue
		}
		plan.columns = append(plan.columns, tag)
		plan.paths = append(plan.paths, path)
	}
}

// ExtractDBColumns lists the db-tagged columns of T, including embedded structs.
//
//	columns := ExtractDBColumns[reconciliation.Document]()
func ExtractDBColumns[T any]() []string {
	var zero T
	cols := planFor(reflect.TypeOf(zero)).columns
	return append([]string(nil), cols...)
}

// StructToMap maps column name to field value for every db-tagged field of v.
func StructToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	plan := planFor(rv.Type())
	res := make(map[string]any, len(plan.columns))
	for i, col := range plan.columns {
		res[col] = rv.FieldByIndex(plan.paths[i]).Interface()
	}
	return res
}

// RowValues returns v's values in the order of columns, for COPY and batch inserts.
// Unknown columns yield nil.
func RowValues(v any, columns []string) []any {
	m := StructToMap(v)
	row := make([]any, len(columns))
	for i, col := range columns {
		row[i] = m[col]
	}
	return row
}
