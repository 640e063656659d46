package query_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"speakquery/internal/dataset"
	"speakquery/internal/jobstore"
	"speakquery/internal/lookup"
	"speakquery/internal/query"
	"speakquery/internal/querylang"
	"speakquery/internal/resolver"
)

// fixtures are the index files every engine test starts with.
var fixtures = map[string]string{
	"logs/a.json": `[
		{"_epoch": 100, "status": "error", "errorCode": 403, "host": "web01"},
		{"_epoch": 200, "status": "ok", "errorCode": 200, "host": "web02"},
		{"_epoch": 300, "status": "error", "errorCode": 500, "host": "web01"}
	]`,
	"logs/b.json":  `[{"_epoch": 250, "status": "error", "errorCode": 404, "host": "db01"}]`,
	"t.table.json": `[{"x": 4, "test": 10}, {"x": 4, "test": 11}, {"x": 5, "test": 13}, {"x": 4, "test": 13}]`,
	"nums.json":    `[{"x": 1, "g": "a"}, {"x": 2, "g": "b"}, {"x": 3, "g": "a"}]`,
	"events.json": `[
		{"_raw": "user=alice action=login", "doc": "{\"a\": {\"b\": 7}, \"tags\": [\"x\", \"y\"]}"},
		{"_raw": "user=bob action=logout", "doc": "{\"a\": {\"b\": 9}, \"tags\": [\"z\"]}"}
	]`,
}

type testEnv struct {
	engine  *query.Engine
	root    string
	lookups *lookup.Registry
	jobs    *jobstore.Store
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func setup(t *testing.T, macros map[string]string) *testEnv {
	t.Helper()
	root := t.TempDir()
	for rel, content := range fixtures {
		writeFile(t, filepath.Join(root, "index"), rel, content)
	}
	writeFile(t, filepath.Join(root, "lookups"), "owners.csv", "host,owner,team\nweb01,alice,web\ndb01,carol,data\n")

	jobs, err := jobstore.Open(filepath.Join(root, "jobs"), nil)
	if err != nil {
		t.Fatal(err)
	}
	lookups := lookup.NewRegistry(lookup.RegistryConfig{Root: filepath.Join(root, "lookups")})
	res := resolver.New(resolver.Config{
		Root:        filepath.Join(root, "index"),
		Extensions:  []string{".csv", ".json"},
		Concurrency: 2,
	})
	eng := query.New(query.Config{
		Resolver: res,
		Lookups:  lookups,
		Jobs:     jobs,
		Macros:   macros,
		Now:      func() time.Time { return time.Unix(1000, 0).UTC() },
	})
	return &testEnv{engine: eng, root: root, lookups: lookups, jobs: jobs}
}

func run(t *testing.T, eng *query.Engine, q string) *query.Result {
	t.Helper()
	res, err := eng.Run(context.Background(), q)
	if err != nil {
		t.Fatalf("Run(%q): %v", q, err)
	}
	return res
}

func execute(t *testing.T, eng *query.Engine, q string) *dataset.Dataset {
	t.Helper()
	res := run(t, eng, q)
	if len(res.Failures) > 0 {
		t.Fatalf("Run(%q): unexpected directive failures: %v", q, res.Failures)
	}
	return res.Data
}

// column returns the text of every cell of name.
func column(ds *dataset.Dataset, name string) []string {
	out := make([]string, 0, ds.Len())
	for _, v := range ds.Column(name) {
		out = append(out, v.AsText())
	}
	return out
}

func wantColumn(t *testing.T, ds *dataset.Dataset, name string, want ...string) {
	t.Helper()
	if got := column(ds, name); !reflect.DeepEqual(got, want) {
		t.Errorf("column %s = %q, want %q", name, got, want)
	}
}

func TestSearch(t *testing.T) {
	env := setup(t, nil)
	tests := []struct {
		query string
		col   string
		want  []string
	}{
		{`index="logs/*" status="error" errorCode IN (403,404)`, "host", []string{"web01", "db01"}},
		{`index="t.table" x=4 test IN (10,13)`, "test", []string{"10", "13"}},
		{`index="logs/*" earliest=200 latest=300`, "_epoch", []string{"200", "300", "250"}},
		{`index="logs/a.json" OR index="logs/*"`, "_epoch", []string{"100", "200", "300", "250"}},
		{`index="logs/a.json" status=error OR index="logs/b.json"`, "_epoch", []string{"100", "300", "250"}},
		{`index="logs" host=web*`, "host", []string{"web01", "web02", "web01"}},
		{`search index="nums" NOT g=a`, "x", []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ds := execute(t, env.engine, tt.query)
			wantColumn(t, ds, tt.col, tt.want...)
		})
	}
}

func TestSearchMissingIndexWarns(t *testing.T) {
	env := setup(t, nil)
	res := run(t, env.engine, `index="nope" OR index="nums"`)
	if res.Data.Len() != 3 {
		t.Errorf("rows = %d, want 3", res.Data.Len())
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Pattern != "nope" {
		t.Errorf("warnings = %v, want one for nope", res.Warnings)
	}
}

func TestStatsCountBy(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine, `index="logs/*" | stats count by status`)
	if !reflect.DeepEqual(ds.Columns, []string{"status", "count"}) {
		t.Fatalf("columns = %v", ds.Columns)
	}
	wantColumn(t, ds, "status", "error", "ok")
	wantColumn(t, ds, "count", "3", "1")
}

func TestStatsFunctions(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine,
		`index="nums" | stats count, sum(x) as total, avg(x), min(x), max(x), dc(g), values(g), range(x), first(x), last(x)`)
	if ds.Len() != 1 {
		t.Fatalf("rows = %d, want 1", ds.Len())
	}
	want := map[string]string{
		"count":    "3",
		"total":    "6",
		"avg(x)":   "2",
		"min(x)":   "1",
		"max(x)":   "3",
		"dc(g)":    "2",
		"range(x)": "2",
		"first(x)": "1",
		"last(x)":  "3",
	}
	for col, v := range want {
		if got := ds.Get(0, col).AsText(); got != v {
			t.Errorf("%s = %q, want %q", col, got, v)
		}
	}
	vals := ds.Get(0, "values(g)").Values()
	if len(vals) != 2 || vals[0].AsText() != "a" || vals[1].AsText() != "b" {
		t.Errorf("values(g) = %v, want [a b]", vals)
	}
}

func TestValuesAreSorted(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine, `index="logs/*" | stats values(host) as h`)
	var got []string
	for _, v := range ds.Get(0, "h").Values() {
		got = append(got, v.AsText())
	}
	if want := []string{"db01", "web01", "web02"}; !reflect.DeepEqual(got, want) {
		t.Errorf("stats values(host) = %q, want %q", got, want)
	}

	ds = execute(t, env.engine, `index="logs/*" | eventstats values(host) as h | mvjoin h delim=","`)
	wantColumn(t, ds, "h", "db01,web01,web02", "db01,web01,web02", "db01,web01,web02", "db01,web01,web02")

	ds = execute(t, env.engine, `index="logs/*" | streamstats values(host) as h | mvjoin h delim=","`)
	wantColumn(t, ds, "h", "web01", "web01,web02", "web01,web02", "db01,web01,web02")
}

func TestStatsWithoutGroupsOnEmptyInput(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine, `index="nums" x>100 | stats count`)
	if ds.Len() != 1 || ds.Get(0, "count").AsText() != "0" {
		t.Errorf("stats over no rows = %v, want one row with count 0", ds.Strings())
	}
}

func TestStatsTooManyGroups(t *testing.T) {
	env := setup(t, nil)
	eng := query.New(query.Config{
		Resolver:  resolver.New(resolver.Config{Root: filepath.Join(env.root, "index"), Extensions: []string{".json"}}),
		MaxGroups: 2,
	})
	res := run(t, eng, `index="nums" | stats count by x`)
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0], query.ErrTooManyGroups) {
		t.Fatalf("failures = %v, want ErrTooManyGroups", res.Failures)
	}
	if res.Data.Len() != 3 {
		t.Errorf("failed stats should pass the dataset through, got %d rows", res.Data.Len())
	}
}

func TestEventstats(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine, `index="nums" | eventstats sum(x) as total by g`)
	wantColumn(t, ds, "x", "1", "2", "3")
	wantColumn(t, ds, "total", "4", "2", "4")
}

func TestStreamstats(t *testing.T) {
	env := setup(t, nil)
	tests := []struct {
		query string
		col   string
		want  []string
	}{
		{`index="nums" | streamstats sum(x) as running`, "running", []string{"1", "3", "6"}},
		{`index="nums" | streamstats count by g`, "count", []string{"1", "1", "2"}},
		{`index="nums" | streamstats window=2 sum(x) as s`, "s", []string{"1", "3", "5"}},
		{`index="nums" | streamstats current=false sum(x) as s`, "s", []string{"", "1", "3"}},
		{`index="nums" | streamstats reset_after="x=2" sum(x) as s`, "s", []string{"1", "3", "3"}},
		{`index="nums" | streamstats reset before x>=2 sum(x) as s`, "s", []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ds := execute(t, env.engine, tt.query)
			wantColumn(t, ds, tt.col, tt.want...)
		})
	}
}

func TestEvalRound(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine, `index="nums" | head 1 | eval y = round(1+2/ (1+2) - 14/2, 0)`)
	if n, ok := ds.Get(0, "y").AsNumber(); !ok || n != -5 {
		t.Errorf("y = %v, want -5", ds.Get(0, "y"))
	}
}

func TestDedupIdempotent(t *testing.T) {
	env := setup(t, nil)
	once := execute(t, env.engine, `index="logs/*" | dedup host`)
	twice := execute(t, env.engine, `index="logs/*" | dedup host | dedup host`)
	if !reflect.DeepEqual(once.Strings(), twice.Strings()) {
		t.Errorf("dedup twice = %v, want %v", twice.Strings(), once.Strings())
	}
	wantColumn(t, once, "host", "web01", "web02", "db01")
}

func TestFieldsComposition(t *testing.T) {
	env := setup(t, nil)
	a := execute(t, env.engine, `index="logs/*" | fields + status host | fields - status`)
	b := execute(t, env.engine, `index="logs/*" | fields + host`)
	if !reflect.DeepEqual(a.Columns, b.Columns) || !reflect.DeepEqual(a.Strings(), b.Strings()) {
		t.Errorf("fields composition: %v %v, want %v %v", a.Columns, a.Strings(), b.Columns, b.Strings())
	}
	if !reflect.DeepEqual(b.Columns, []string{"host"}) {
		t.Errorf("columns = %v, want [host]", b.Columns)
	}
}

func TestPipelineDirectives(t *testing.T) {
	env := setup(t, nil)
	tests := []struct {
		name  string
		query string
		col   string
		want  []string
	}{
		{"sort desc", `index="nums" | sort - x`, "x", []string{"3", "2", "1"}},
		{"reverse", `index="nums" | reverse`, "x", []string{"3", "2", "1"}},
		{"tail", `index="nums" | tail 2`, "x", []string{"2", "3"}},
		{"where", `index="nums" | where x > 1 AND g == "a"`, "x", []string{"3"}},
		{"rename", `index="nums" | rename x as y`, "y", []string{"1", "2", "3"}},
		{"fillnull", `index="nums" | eval z = if(x > 1, x, null()) | fillnull value=0 z`, "z", []string{"0", "2", "3"}},
		{"bin", `index="logs/a.json" | bin span=150 _epoch as bucket`, "bucket", []string{"0", "150", "300"}},
		{"expression", `index="nums" | max(x)`, "max(x)", []string{"3", "3", "3"}},
		{"regex", `index="logs/*" | regex field=host "^web"`, "host", []string{"web01", "web02", "web01"}},
		{"regex negated", `index="logs/*" | regex field!=host "^web"`, "host", []string{"db01"}},
		{"base64", `index="nums" | eval s="hi" | base64 encode s | base64 decode s`, "s", []string{"hi", "hi", "hi"}},
		{"rex", `index="events" | rex field=_raw "user=(?<user>\w+)"`, "user", []string{"alice", "bob"}},
		{"rex sed", `index="events" | rex field=_raw mode=sed "s/user=\w+/user=x/"`, "_raw", []string{"user=x action=login", "user=x action=logout"}},
		{"spath dotted", `index="events" | spath input=doc path=a.b`, "a.b", []string{"7", "9"}},
		{"spath jsonpath", `index="events" | spath doc "$.a.b"`, "$.a.b", []string{"7", "9"}},
		{"extract", `index="events" | extract`, "action", []string{"login", "logout"}},
		{"extract logfmt", `index="events" | extract field=_raw mode=logfmt`, "user", []string{"alice", "bob"}},
		{"extract keeps columns", `index="events" | eval user="x" | extract`, "user", []string{"x", "x"}},
		{"dedup", `index="logs/*" | dedup host`, "host", []string{"web01", "web02", "db01"}},
		{"dedup consecutive", `index="logs/*" | dedup host consecutive=true`, "host", []string{"web01", "web02", "web01", "db01"}},
		{"dedup keeps n", `index="logs/*" | dedup 2 status`, "host", []string{"web01", "web02", "web01"}},
		{"rex existing column", `index="events" | eval user="x" | rex field=_raw "user=(?<user>\w+)"`, "user_rex", []string{"alice", "bob"}},
		{"rex keeps existing column", `index="events" | eval user="x" | rex field=_raw "user=(?<user>\w+)"`, "user", []string{"x", "x"}},
		{"rex max_match", `index="events" | rex field=_raw max_match=2 "(?<k>\w+)=" | mvjoin k delim=","`, "k", []string{"user,action", "user,action"}},
		{"rex first match", `index="events" | rex field=_raw "(?<k>\w+)="`, "k", []string{"user", "user"}},
		{"top macro", "index=\"logs/*\" | `top(host, 1)`", "host", []string{"web01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := execute(t, env.engine, tt.query)
			wantColumn(t, ds, tt.col, tt.want...)
		})
	}
}

func TestMultivalue(t *testing.T) {
	env := setup(t, nil)
	base := `index="events" | spath input=doc path=tags | rename tags as t | `
	tests := []struct {
		name string
		pipe string
		col  string
		want []string
	}{
		{"mvcount", `mvcount t`, "t_count", []string{"2", "1"}},
		{"mvjoin", `mvjoin t delim=","`, "t", []string{"x,y", "z"}},
		{"mvindex", `mvindex t -1`, "mvindex", []string{"y", "z"}},
		{"mvfind", `mvfind t "^y"`, "mvfind", []string{"1", "-1"}},
		{"mvexpand", `mvexpand t`, "t", []string{"x", "y", "z"}},
		{"mvreverse", `mvreverse t | mvjoin t`, "t", []string{"y x", "z"}},
		{"mvzip", `mvzip t t | mvjoin mvzip delim=","`, "mvzip", []string{"x_x,y_y", "z_z"}},
		{"mvzip delim", `mvzip t t "-" | mvjoin mvzip delim=","`, "mvzip", []string{"x-x,y-y", "z-z"}},
		{"mvcombine", `mvcombine t`, "t", []string{"x y", "z"}},
		{"mvcombine delim", `mvcombine t delim=";"`, "t", []string{"x;y", "z"}},
		{"mvfilter", `mvfilter t x | mvcount t`, "t_count", []string{"1", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := execute(t, env.engine, base+tt.pipe)
			wantColumn(t, ds, tt.col, tt.want...)
		})
	}
}

func TestCoalesce(t *testing.T) {
	env := setup(t, nil)
	for _, q := range []string{
		`index="nums" | eval a = if(x > 2, "big", null()) | eval b = "small" | coalesce(a, b)`,
		`index="nums" | eval a = if(x > 2, "big", null()) | eval b = "small" | coalesce a b`,
	} {
		ds := execute(t, env.engine, q)
		wantColumn(t, ds, "coalesce", "small", "small", "big")
	}
}

func TestJoinAndAppend(t *testing.T) {
	env := setup(t, nil)
	tests := []struct {
		name  string
		query string
		col   string
		want  []string
	}{
		{"inner join", `index="logs/a.json" | join host [index="logs/a.json" status=ok | eval role="front"]`, "role", []string{"front"}},
		{"left join", `index="logs/a.json" | join type=left host [index="logs/a.json" status=ok | eval role="front"]`, "role", []string{"", "front", ""}},
		{"right join", `index="logs/a.json" status=ok | eval role="front" | join type=right host [index="logs/*"]`, "role", []string{"", "front", "", ""}},
		{"right join keeps right rows", `index="logs/a.json" status=ok | eval role="front" | join type=right host [index="logs/*"]`, "host", []string{"web01", "web02", "web01", "db01"}},
		{"append", `index="nums" | append [index="logs/b.json"]`, "host", []string{"", "", "", "db01"}},
		{"appendpipe", `index="nums" | appendpipe [stats sum(x) as x]`, "x", []string{"1", "2", "3", "6"}},
		{"multisearch", `index="nums" | head 1 | multisearch [index="nums" g=b] [index="logs/b.json"]`, "_epoch", []string{"", "", "250"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := execute(t, env.engine, tt.query)
			wantColumn(t, ds, tt.col, tt.want...)
		})
	}
}

func TestLookups(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine, `index="logs/*" | lookup owners host OUTPUT owner`)
	wantColumn(t, ds, "owner", "alice", "", "alice", "carol")
	if ds.HasColumn("team") {
		t.Error("team should not be written when OUTPUT names owner only")
	}

	out := execute(t, env.engine, `index="nums" | outputlookup "nums.csv"`)
	if out.Len() != 3 {
		t.Errorf("outputlookup changed the dataset: %d rows", out.Len())
	}
	back := execute(t, env.engine, `| inputlookup "nums.csv"`)
	wantColumn(t, back, "x", "1", "2", "3")

	execute(t, env.engine, `index="nums" | outputlookup append=true "nums.csv"`)
	back = execute(t, env.engine, `| inputlookup "nums.csv"`)
	if back.Len() != 6 {
		t.Errorf("after append: %d rows, want 6", back.Len())
	}

	execute(t, env.engine, `index="nums" x>100 | outputlookup "nums.csv"`)
	if env.lookups.Exists("nums.csv") {
		t.Error("an empty result should delete the existing lookup")
	}
}

func TestOutputlookupArgumentErrors(t *testing.T) {
	env := setup(t, nil)
	_, err := env.engine.Run(context.Background(), `index="nums" | outputlookup append=true overwrite=true "x.csv"`)
	var ae *query.DirectiveArgumentError
	if !errors.As(err, &ae) || ae.Directive != "outputlookup" {
		t.Fatalf("err = %v, want outputlookup argument error", err)
	}
}

func TestLoadjob(t *testing.T) {
	env := setup(t, nil)
	saved := execute(t, env.engine, `index="nums" | stats sum(x) as total`)
	id, err := env.jobs.Save(`index="nums" | stats sum(x) as total`, saved)
	if err != nil {
		t.Fatal(err)
	}
	ds := execute(t, env.engine, `| loadjob "`+id.String()+`" | eval doubled = total * 2`)
	wantColumn(t, ds, "doubled", "12")

	_, err = env.engine.Run(context.Background(), `| loadjob "not-a-uuid"`)
	if !errors.Is(err, jobstore.ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
}

func TestTimechart(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine, `index="logs/*" | timechart span=200 count`)
	wantColumn(t, ds, "_time", "0", "200")
	wantColumn(t, ds, "count", "1", "3")
}

func TestFieldsummary(t *testing.T) {
	env := setup(t, nil)
	ds := execute(t, env.engine, `index="nums" | fieldsummary x`)
	if ds.Len() != 1 {
		t.Fatalf("rows = %d, want 1", ds.Len())
	}
	for col, want := range map[string]string{"field": "x", "count": "3", "distinct_count": "3", "min": "1", "max": "3", "mean": "2", "numeric_count": "3"} {
		if got := ds.Get(0, col).AsText(); got != want {
			t.Errorf("%s = %q, want %q", col, got, want)
		}
	}
}

func TestTextMacro(t *testing.T) {
	env := setup(t, map[string]string{"errors_by": `search status="error" | stats count by $field$`})
	ds := execute(t, env.engine, "index=\"logs/*\" | `errors_by(field=host)`")
	wantColumn(t, ds, "host", "web01", "db01")
	wantColumn(t, ds, "count", "2", "1")

	_, err := env.engine.Run(context.Background(), "index=\"logs/*\" | `errors_by`")
	var ae *query.DirectiveArgumentError
	if !errors.As(err, &ae) {
		t.Errorf("err = %v, want argument error for missing macro argument", err)
	}
	_, err = env.engine.Run(context.Background(), "index=\"logs/*\" | `nosuch`")
	if !errors.Is(err, query.ErrUnknownMacro) {
		t.Errorf("err = %v, want ErrUnknownMacro", err)
	}
}

func TestRecursiveMacro(t *testing.T) {
	env := setup(t, map[string]string{"loop": "`loop`"})
	_, err := env.engine.Run(context.Background(), "index=\"nums\" | `loop`")
	if !errors.Is(err, query.ErrMacroDepth) {
		t.Errorf("err = %v, want ErrMacroDepth", err)
	}
}

func TestArgumentErrorsAbort(t *testing.T) {
	env := setup(t, nil)
	tests := []struct {
		query     string
		directive string
	}{
		{`index="nums" | head 0`, "head"},
		{`index="nums" | fillnull x`, "fillnull"},
		{`index="nums" | stats count, count`, "stats"},
		{`index="nums" | stats nosuch(x)`, "stats"},
		{`index="nums" | streamstats global=false count`, "streamstats"},
		{`index="nums" | join type=sideways x [index="nums"]`, "join"},
		{`index="nums" | append [index="nums" | head 0]`, "head"},
		{`index="nums" | rex field=x "no groups"`, "rex"},
		{`index="nums" | bin span=abc x`, "bin"},
		{`index="nums" | extract mode=xml`, "extract"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := env.engine.Run(context.Background(), tt.query)
			var ae *query.DirectiveArgumentError
			if !errors.As(err, &ae) {
				t.Fatalf("err = %v, want DirectiveArgumentError", err)
			}
			if ae.Directive != tt.directive {
				t.Errorf("directive = %q, want %q", ae.Directive, tt.directive)
			}
		})
	}
}

func TestRuntimeErrorsPassThrough(t *testing.T) {
	env := setup(t, nil)
	tests := []struct {
		query     string
		directive string
		target    error
	}{
		{`index="nums" | sort nosuch | stats count`, "sort", nil},
		{`index="nums" | nosuchfunc(x) | stats count`, "nosuchfunc", querylang.ErrUnknownFunction},
		{`index="nums" | mvexpand nosuch | stats count`, "mvexpand", nil},
		{`index="nums" | stats count by nosuch | stats count`, "stats", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := run(t, env.engine, tt.query)
			if len(res.Failures) != 1 {
				t.Fatalf("failures = %v, want one", res.Failures)
			}
			f := res.Failures[0]
			if f.Directive != tt.directive {
				t.Errorf("failed directive = %q, want %q", f.Directive, tt.directive)
			}
			if tt.target != nil && !errors.Is(f, tt.target) {
				t.Errorf("failure = %v, want %v", f, tt.target)
			}
			if got := res.Data.Get(0, "count").AsText(); got != "3" {
				t.Errorf("count after failed stage = %q, want 3", got)
			}
		})
	}
}

func TestMissingColumnError(t *testing.T) {
	env := setup(t, nil)
	res := run(t, env.engine, `index="nums" | dedup nosuch`)
	var mc *dataset.MissingColumnError
	if len(res.Failures) != 1 || !errors.As(res.Failures[0], &mc) || mc.Name != "nosuch" {
		t.Errorf("failures = %v, want missing column nosuch", res.Failures)
	}
}

func TestCancelledContext(t *testing.T) {
	env := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := env.engine.Run(ctx, `index="nums" | stats count`); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestExplainDeterministic(t *testing.T) {
	env := setup(t, nil)
	q := "index=\"logs/*\" status=error OR index=\"nums\" earliest=-1h | `top(host)` | eval y = x * 2"
	a, err := env.engine.Explain(q)
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.engine.Explain(q)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("explain differs between calls:\n%+v\n%+v", a, b)
	}
	if len(a.Blocks) != 2 {
		t.Errorf("blocks = %v, want 2", a.Blocks)
	}
	want := []string{"stats count by host", "sort - count", "head 10", "eval y = x * 2"}
	if !reflect.DeepEqual(a.Stages, want) {
		t.Errorf("stages = %q, want %q", a.Stages, want)
	}
}
