// Package shell runs external commands. Every invocation drains stdout and
// stderr concurrently while the caller blocks on process exit, and reports
// unexpected failures as *ToolError.
package shell
