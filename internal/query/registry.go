package query

import (
	"slices"

	"speakquery/internal/querylang"
)

// compileFunc turns a directive's arguments into an op. depth is the macro
// expansion depth, passed on to subsearch compilation.
type compileFunc func(e *Engine, d *querylang.Directive, depth int) (op, error)

// directives maps directive names to their compilers. Filled in init to
// break the cycle through subsearch compilation.
var directives map[string]compileFunc

func init() {
	directives = map[string]compileFunc{
		"search": compileSearch,
		"where":  compileWhere,
		"fields": compileFields,
		"table":  compileTable,
		"eval":   compileEval,
		"rename": compileRename,
		"sort":   compileSort,

		"reverse": compileReverse,
		"head":    compileHead,
		"limit":   compileHead,
		"tail":    compileTail,
		"dedup":   compileDedup,

		"rex":      compileRex,
		"regex":    compileRegex,
		"base64":   compileBase64,
		"fillnull": compileFillnull,
		"bin":      compileBin,
		"spath":    compileSpath,
		"extract":  compileExtract,

		"join":        compileJoin,
		"append":      compileAppend,
		"appendpipe":  compileAppendpipe,
		"multisearch": compileMultisearch,

		"lookup":       compileLookup,
		"inputlookup":  compileInputlookup,
		"outputlookup": compileOutputlookup,
		"loadjob":      compileLoadjob,

		"stats":        compileStats,
		"eventstats":   compileEventstats,
		"streamstats":  compileStreamstats,
		"timechart":    compileTimechart,
		"fieldsummary": compileFieldsummary,

		"mvexpand":  compileMvexpand,
		"mvcombine": compileMvcombine,
		"mvdedup":   compileMvdedup,
		"mvreverse": compileMvreverse,
		"mvfilter":  compileMvfilter,
		"mvcount":   compileMvcount,
		"mvdc":      compileMvdc,
		"mvfind":    compileMvfind,
		"mvzip":     compileMvzip,
		"mvjoin":    compileMvjoin,
		"mvindex":   compileMvindex,
		"mvappend":  compileMvappend,
		"coalesce":  compileCoalesce,
	}
}

// Directives returns the names of all directives with a dedicated handler,
// sorted.
func Directives() []string {
	names := make([]string, 0, len(directives))
	for n := range directives {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
