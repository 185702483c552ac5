package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kbukum/runflow/repository"
	runpkg "github.com/kbukum/runflow/run"
)

// printListing writes each repository and its jobs with the steps in
// execution order. Every title is underlined with asterisks.
func printListing(w io.Writer, listing []repository.Listing) {
	for _, repo := range listing {
		title := "Repository " + repo.Name
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, strings.Repeat("*", len(title)))
		for i, job := range repo.Jobs {
			header := "Job: " + job.Name
			if i > 0 {
				fmt.Fprintln(w, strings.Repeat("*", len(header)))
			}
			fmt.Fprintln(w, header)
			if job.Description != "" {
				fmt.Fprintln(w, "Description:")
				fmt.Fprintln(w, job.Description)
			}
			fmt.Fprintln(w, "Steps: (Execution Order)")
			for _, id := range job.Order {
				fmt.Fprintln(w, "    "+id)
			}
		}
	}
}

func printRun(w io.Writer, r *runpkg.Run) {
	fmt.Fprintf(w, "Run %s (%s/%s): %s\n", r.ID, r.Repository, r.JobName, r.Status)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tATTEMPT\tDURATION\tERROR")
	for _, id := range stepOrder(r) {
		s := r.Steps[id]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", id, s.Status, s.Attempt, duration(s.StartedAt, s.EndedAt), firstLine(s.Error))
	}
	_ = tw.Flush()
}

func printRuns(w io.Writer, runs []*runpkg.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tREPOSITORY\tJOB\tSTATUS\tCREATED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Repository, r.JobName, r.Status, r.CreatedAt.Local().Format(time.DateTime), duration(r.StartedAt, r.EndedAt))
	}
	_ = tw.Flush()
}

// stepOrder returns the step ids of r in batch order.
func stepOrder(r *runpkg.Run) []string {
	ids := make([]string, 0, len(r.Steps))
	seen := make(map[string]bool, len(r.Steps))
	for _, b := range r.Batches {
		for _, id := range b {
			if _, ok := r.Steps[id]; ok && !seen[id] {
				ids = append(ids, id)
				seen[id] = true
			}
		}
	}
	var rest []string
	for id := range r.Steps {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

func duration(start, end *time.Time) string {
	if start == nil || end == nil {
		return "-"
	}
	return end.Sub(*start).Round(time.Millisecond).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
