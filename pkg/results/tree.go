package results

import "strings"

// RootPackage is the package name assigned to classes without a package.
const RootPackage = "(root)"

// Tree is the nested test result tree of a single build.
type Tree struct {
	Packages []Package `json:"packages"`
}

// Package groups the classes of one test package.
type Package struct {
	Name    string  `json:"name"`
	Classes []Class `json:"classes"`
}

// Class groups the cases of one test class.
type Class struct {
	Name  string `json:"name"`
	Cases []Case `json:"cases"`
}

// Case is a single executed test case.
type Case struct {
	Name     string `json:"name"`
	FullName string `json:"full_name,omitempty"`

	// Duration is in seconds.
	Duration float64 `json:"duration"`
	Failed   bool    `json:"failed,omitempty"`
	Skipped  bool    `json:"skipped,omitempty"`

	// URL is relative to the build URL. Derived from the safe names of
	// the package, class and case when empty.
	URL string `json:"url,omitempty"`
}

// CaseCount returns the total number of cases in the tree.
func (t *Tree) CaseCount() int {
	if t == nil {
		return 0
	}

	n := 0

	for _, p := range t.Packages {
		for _, c := range p.Classes {
			n += len(c.Cases)
		}
	}

	return n
}

// ClassCount returns the total number of classes in the tree.
func (t *Tree) ClassCount() int {
	if t == nil {
		return 0
	}

	n := 0
	for _, p := range t.Packages {
		n += len(p.Classes)
	}

	return n
}

// Merge appends the packages of other to the tree. Packages and classes
// with matching names are combined, keeping first-seen order.
func (t *Tree) Merge(other *Tree) {
	if other == nil {
		return
	}

	for _, p := range other.Packages {
		for _, c := range p.Classes {
			t.addCases(p.Name, c.Name, c.Cases...)
		}
	}
}

func (t *Tree) addCases(pkgName, className string, cases ...Case) {
	pi := -1

	for i := range t.Packages {
		if t.Packages[i].Name == pkgName {
			pi = i

			break
		}
	}

	if pi < 0 {
		t.Packages = append(t.Packages, Package{Name: pkgName})
		pi = len(t.Packages) - 1
	}

	pkg := &t.Packages[pi]

	for i := range pkg.Classes {
		if pkg.Classes[i].Name == className {
			pkg.Classes[i].Cases = append(pkg.Classes[i].Cases, cases...)

			return
		}
	}

	pkg.Classes = append(pkg.Classes, Class{
		Name:  className,
		Cases: append([]Case(nil), cases...),
	})
}

var safeReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "?", "_",
	"#", "_", "%", "_", "<", "_", ">", "_",
)

// SafeName returns name with characters that are unsafe in a URL path
// segment replaced by underscores.
func SafeName(name string) string {
	return safeReplacer.Replace(name)
}

// SplitClassName splits a fully qualified class name into its package and
// class parts. A name without a dot belongs to RootPackage.
func SplitClassName(fqcn string) (pkg, class string) {
	idx := strings.LastIndex(fqcn, ".")
	if idx < 0 {
		return RootPackage, fqcn
	}

	return fqcn[:idx], fqcn[idx+1:]
}
