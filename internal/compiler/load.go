package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadResult contains the classes loaded from a directory.
type LoadResult struct {
	Classes   []ClassSpec
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError reports a directory that could not be turned into a CUE value,
// before any class was compiled.
type LoadError struct {
	Dir     string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Dir, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Dir, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadDir loads the CUE package in dir and compiles its classes.
//
// A *LoadError is returned alone when the directory cannot be read or
// built. Otherwise every compile error is returned alongside the classes
// that did compile.
func LoadDir(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&LoadError{Dir: dir, Message: "classes directory not accessible", Err: err}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Dir: dir, Message: "not a directory"}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Dir: dir, Message: "scanning directory", Err: err}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Dir: dir, Message: "no CUE files found"}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Dir: dir, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Dir: dir, Message: "loading CUE files", Err: inst.Err}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Dir: dir, Message: "building CUE value", Err: formatCUEError(err)}}
	}

	classes, errs := CompileClasses(value)
	return &LoadResult{
		Classes:   classes,
		CUEValue:  value,
		FileCount: len(files),
	}, errs
}

// FindCUEFiles returns the .cue files directly in dir. Subdirectories are
// separate CUE packages and are not part of the class set.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
