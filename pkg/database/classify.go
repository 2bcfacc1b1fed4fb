package database

import (
	"regexp"
	"sort"
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// Statement categories. They match the type field of planned SQL statements.
const (
	CategoryDDL   = "DDL"
	CategoryDML   = "DML"
	CategoryDQL   = "DQL"
	CategoryOther = "OTHER"
)

// Statement is a classified SQL text.
type Statement struct {
	SQL      string   `json:"sql"`
	Category string   `json:"category"`
	Verb     string   `json:"verb"`
	Tables   []string `json:"tables,omitempty"`

	// Parsed is false when the parser rejected the text and the category
	// was derived from its leading keyword.
	Parsed bool `json:"parsed"`
}

var verbCategories = map[string]string{
	"SELECT":   CategoryDQL,
	"WITH":     CategoryDQL,
	"SHOW":     CategoryDQL,
	"EXPLAIN":  CategoryDQL,
	"INSERT":   CategoryDML,
	"UPDATE":   CategoryDML,
	"DELETE":   CategoryDML,
	"MERGE":    CategoryDML,
	"UPSERT":   CategoryDML,
	"CREATE":   CategoryDDL,
	"ALTER":    CategoryDDL,
	"DROP":     CategoryDDL,
	"TRUNCATE": CategoryDDL,
	"RENAME":   CategoryDDL,
	"COMMENT":  CategoryDDL,
}

var (
	leadingComment = regexp.MustCompile(`(?s)^\s*(--[^\n]*\n|/\*.*?\*/)`)
	tableRef       = regexp.MustCompile(`(?i)\b(?:from|into|update|join|table(?:\s+if(?:\s+not)?\s+exists)?|index\s+\S+\s+on)\s+("?[A-Za-z_][\w$]*"?(?:\."?[A-Za-z_][\w$]*"?)?)`)
)

// Classify parses sql and reports its category, leading verb and the tables
// it references. It never fails: text the MySQL-dialect parser cannot read
// (most Postgres-only syntax) is classified by keyword instead.
func Classify(sql string) Statement {
	text := strings.TrimSpace(sql)
	for {
		loc := leadingComment.FindStringIndex(text)
		if loc == nil {
			break
		}
		text = strings.TrimSpace(text[loc[1]:])
	}

	st := Statement{SQL: sql, Verb: leadingVerb(text)}

	stmt, err := sqlparser.Parse(strings.TrimSuffix(text, ";"))
	if err == nil {
		if cat, ok := categoryOf(stmt); ok {
			st.Category = cat
			st.Tables = parsedTables(stmt)
			st.Parsed = true
		}
	}
	if st.Category == "" {
		st.Category = verbCategories[st.Verb]
		if st.Category == "" {
			st.Category = CategoryOther
		}
	}
	if len(st.Tables) == 0 {
		st.Tables = scannedTables(text)
	}
	return st
}

func leadingVerb(text string) string {
	end := strings.IndexFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		end = len(text)
	}
	return strings.ToUpper(text[:end])
}

func categoryOf(stmt sqlparser.Statement) (string, bool) {
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union, *sqlparser.ParenSelect:
		return CategoryDQL, true
	case *sqlparser.Insert, *sqlparser.Update, *sqlparser.Delete:
		return CategoryDML, true
	case *sqlparser.DDL:
		return CategoryDDL, true
	}
	return "", false
}

func parsedTables(stmt sqlparser.Statement) []string {
	seen := map[string]bool{}
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.ColName:
			// qualifiers here may be aliases
			return false, nil
		case sqlparser.TableName:
			if n.Name.IsEmpty() {
				return true, nil
			}
			name := n.Name.String()
			if !n.Qualifier.IsEmpty() {
				name = n.Qualifier.String() + "." + name
			}
			seen[strings.ToLower(name)] = true
		}
		return true, nil
	}, stmt)
	return sortedKeys(seen)
}

func scannedTables(text string) []string {
	seen := map[string]bool{}
	for _, m := range tableRef.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(strings.ReplaceAll(m[1], `"`, ""))
		switch name {
		case "if", "select", "only":
			continue
		}
		seen[name] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
