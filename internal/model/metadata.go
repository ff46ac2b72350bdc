package model

import "strings"

// Task is a shared task as configured by its organizers.
type Task struct {
	ID                             string `yaml:"id" json:"id"`
	VirtualMachineID               string `yaml:"virtual_machine_id" json:"virtual_machine_id"`
	MaxStdoutCharsOnTestData       int    `yaml:"max_stdout_chars_on_test_data" json:"max_stdout_chars_on_test_data"`
	MaxStdoutCharsOnTestDataEval   int    `yaml:"max_stdout_chars_on_test_data_eval" json:"max_stdout_chars_on_test_data_eval"`
	MaxStderrCharsOnTestData       int    `yaml:"max_stderr_chars_on_test_data" json:"max_stderr_chars_on_test_data"`
	MaxStderrCharsOnTestDataEval   int    `yaml:"max_stderr_chars_on_test_data_eval" json:"max_stderr_chars_on_test_data_eval"`
	MaxFileListCharsOnTestData     int    `yaml:"max_file_list_chars_on_test_data" json:"max_file_list_chars_on_test_data"`
	MaxFileListCharsOnTestDataEval int    `yaml:"max_file_list_chars_on_test_data_eval" json:"max_file_list_chars_on_test_data_eval"`
}

// Dataset is an input dataset of a task.
type Dataset struct {
	ID           string `yaml:"id" json:"id"`
	TaskID       string `yaml:"task_id" json:"task_id"`
	Confidential bool   `yaml:"confidential" json:"confidential"`
	EvaluatorID  string `yaml:"evaluator_id" json:"evaluator_id"`
	Deprecated   bool   `yaml:"deprecated" json:"deprecated"`
}

// Software is a participant's registered command for a task.
type Software struct {
	ID               string `yaml:"id" json:"id"`
	TaskID           string `yaml:"task_id" json:"task_id"`
	User             string `yaml:"user" json:"user"`
	Command          string `yaml:"command" json:"command"`
	WorkingDirectory string `yaml:"working_directory" json:"working_directory"`
	Deleted          bool   `yaml:"deleted" json:"deleted"`
}

// Evaluator is an organizer-provided measuring command.
type Evaluator struct {
	ID               string   `yaml:"id" json:"id"`
	TaskID           string   `yaml:"task_id" json:"task_id"`
	Command          string   `yaml:"command" json:"command"`
	WorkingDirectory string   `yaml:"working_directory" json:"working_directory"`
	MeasureKeys      []string `yaml:"measure_keys" json:"measure_keys"`
	Deprecated       bool     `yaml:"deprecated" json:"deprecated"`
}

// VirtualMachine describes the VM assigned to a user or task.
type VirtualMachine struct {
	ID       string `yaml:"id" json:"id"`
	Host     string `yaml:"host" json:"host"`
	VMName   string `yaml:"vm_name" json:"vm_name"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	PortSSH  string `yaml:"port_ssh" json:"port_ssh"`
	PortRDP  string `yaml:"port_rdp" json:"port_rdp"`
}

// OS guesses the guest operating system family from the VM name.
func (vm VirtualMachine) OS() string {
	switch {
	case strings.Contains(vm.VMName, "ubuntu"):
		return "ubuntu"
	case strings.Contains(vm.VMName, "fedora"):
		return "fedora"
	default:
		return "windows"
	}
}

// User is a platform account.
type User struct {
	Name             string   `yaml:"name" json:"name"`
	VirtualMachineID string   `yaml:"virtual_machine_id" json:"virtual_machine_id"`
	Roles            []string `yaml:"roles" json:"roles"`
}

// RoleReviewer is the role of task moderators. Reviewers see unredacted
// output of confidential datasets.
const RoleReviewer = "reviewer"
