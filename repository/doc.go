// Package repository loads job definitions and holds them in a Workspace.
//
// A definitions file declares one repository: a name plus a set of jobs, each
// a list of steps with dependencies. Files are YAML (.yaml, .yml) or HCL
// (.hcl) and may include other definition files by relative path. Every job
// is built into a graph.Graph and planned when it is loaded, so construction
// errors surface before any run is created.
//
// YAML:
//
//	repository: analytics
//	include: [shared.yaml]
//	jobs:
//	  - name: daily
//	    steps:
//	      - id: extract
//	        fn: exec
//	        args: [./extract.sh]
//	      - id: load
//	        fn: noop
//	        depends_on: [extract]
//
// HCL:
//
//	repository = "analytics"
//
//	job "daily" {
//	  step "extract" {
//	    fn   = "exec"
//	    args = ["./extract.sh"]
//	  }
//	  step "load" {
//	    fn         = "noop"
//	    depends_on = ["extract"]
//	  }
//	}
package repository
