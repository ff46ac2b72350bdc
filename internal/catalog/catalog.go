// Package catalog serves read-only task, dataset, software, evaluator,
// virtual machine and user metadata from a YAML file.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tira-io/tirad/internal/model"
)

// Catalog is an immutable in-memory index of the metadata file.
type Catalog struct {
	tasks      map[string]model.Task
	datasets   map[string]model.Dataset
	softwares  map[softwareKey]model.Software
	evaluators map[string]model.Evaluator
	vms        map[string]model.VirtualMachine
	users      map[string]model.User
}

type softwareKey struct {
	task, user, id string
}

type file struct {
	Tasks           []model.Task           `yaml:"tasks"`
	Datasets        []model.Dataset        `yaml:"datasets"`
	Softwares       []model.Software       `yaml:"softwares"`
	Evaluators      []model.Evaluator      `yaml:"evaluators"`
	VirtualMachines []model.VirtualMachine `yaml:"virtual_machines"`
	Users           []model.User           `yaml:"users"`
}

// Load reads and indexes the catalog file at path.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

// Parse indexes a catalog document. Duplicate ids are rejected.
func Parse(b []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w: %v", model.ErrParse, err)
	}

	c := &Catalog{
		tasks:      make(map[string]model.Task, len(f.Tasks)),
		datasets:   make(map[string]model.Dataset, len(f.Datasets)),
		softwares:  make(map[softwareKey]model.Software, len(f.Softwares)),
		evaluators: make(map[string]model.Evaluator, len(f.Evaluators)),
		vms:        make(map[string]model.VirtualMachine, len(f.VirtualMachines)),
		users:      make(map[string]model.User, len(f.Users)),
	}
	for _, t := range f.Tasks {
		if err := put(c.tasks, t.ID, t, "task"); err != nil {
			return nil, err
		}
	}
	for _, d := range f.Datasets {
		if err := put(c.datasets, d.ID, d, "dataset"); err != nil {
			return nil, err
		}
	}
	for _, s := range f.Softwares {
		if err := put(c.softwares, softwareKey{s.TaskID, s.User, s.ID}, s, "software"); err != nil {
			return nil, err
		}
	}
	for _, e := range f.Evaluators {
		if err := put(c.evaluators, e.ID, e, "evaluator"); err != nil {
			return nil, err
		}
	}
	for _, vm := range f.VirtualMachines {
		if err := put(c.vms, vm.ID, vm, "virtual machine"); err != nil {
			return nil, err
		}
	}
	for _, u := range f.Users {
		if err := put(c.users, u.Name, u, "user"); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func put[K comparable, V any](m map[K]V, k K, v V, kind string) error {
	if _, dup := m[k]; dup {
		return fmt.Errorf("duplicate %s %v: %w", kind, k, model.ErrParse)
	}
	m[k] = v
	return nil
}

// Task returns the task with id.
func (c *Catalog) Task(id string) (model.Task, error) {
	return lookup(c.tasks, id, "task")
}

// Dataset returns the dataset with id.
func (c *Catalog) Dataset(id string) (model.Dataset, error) {
	return lookup(c.datasets, id, "dataset")
}

// Software returns a user's software of a task.
func (c *Catalog) Software(taskID, user, id string) (model.Software, error) {
	return lookup(c.softwares, softwareKey{taskID, user, id}, "software")
}

// Evaluator returns the evaluator with id.
func (c *Catalog) Evaluator(id string) (model.Evaluator, error) {
	return lookup(c.evaluators, id, "evaluator")
}

// VirtualMachine returns the virtual machine with id.
func (c *Catalog) VirtualMachine(id string) (model.VirtualMachine, error) {
	return lookup(c.vms, id, "virtual machine")
}

// User returns the user with name.
func (c *Catalog) User(name string) (model.User, error) {
	return lookup(c.users, name, "user")
}

// UserVM returns the virtual machine assigned to user.
func (c *Catalog) UserVM(user string) (model.VirtualMachine, error) {
	u, err := c.User(user)
	if err != nil {
		return model.VirtualMachine{}, err
	}
	return c.VirtualMachine(u.VirtualMachineID)
}

// TaskVM returns the virtual machine that hosts a task's evaluators.
func (c *Catalog) TaskVM(taskID string) (model.VirtualMachine, error) {
	t, err := c.Task(taskID)
	if err != nil {
		return model.VirtualMachine{}, err
	}
	return c.VirtualMachine(t.VirtualMachineID)
}

// MeasureKeys returns the measure keys of the evaluator currently
// configured for dataset. The run's own evaluator id is not used because
// it may be outdated. Missing entries yield nil.
func (c *Catalog) MeasureKeys(datasetID string) []string {
	d, ok := c.datasets[datasetID]
	if !ok {
		return nil
	}
	return c.evaluators[d.EvaluatorID].MeasureKeys
}

func lookup[K comparable, V any](m map[K]V, k K, kind string) (V, error) {
	v, ok := m[k]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%s %v: %w", kind, k, model.ErrNotFound)
	}
	return v, nil
}
