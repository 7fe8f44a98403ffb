package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Render writes the report as human-readable tables.
func Render(out io.Writer, r *Report) {
	p := message.NewPrinter(language.English)

	_, _ = p.Fprintf(out, "Field verification report (generated %s)\n\n",
		r.GeneratedAt.Format("2006-01-02 15:04 MST"))
	_, _ = p.Fprintf(out, "Projects:        %d\n", r.Overview.Projects)
	_, _ = p.Fprintf(out, "Planning assets: %d\n", r.Overview.PlanningAssets)
	_, _ = p.Fprintf(out, "Field records:   %d\n", r.Overview.FieldRecords)
	_, _ = p.Fprintf(out, "Links:           %d  (avg confidence %.3f)\n",
		r.Overview.Links, r.Overview.AvgConfidence)
	_, _ = p.Fprintf(out, "Unique codes:    %d planning, %d field\n",
		r.Overview.UniquePlanningCodes, r.Overview.UniqueFieldCodes)
	for _, mt := range []string{"exact", "numeric_suffix", "proximity"} {
		if n, ok := r.Overview.ByMatchType[mt]; ok {
			_, _ = p.Fprintf(out, "  %-15s%d\n", mt, n)
		}
	}

	if len(r.PerProject) > 0 {
		_, _ = fmt.Fprintln(out, "\nPer-project coverage:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PROJECT\tNAME\tKIND\tASSETS\tLINKED\tRATE\tAVG CONF")
		_, _ = fmt.Fprintln(w, "-------\t----\t----\t------\t------\t----\t--------")
		for _, pc := range r.PerProject {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%.3f\n",
				pc.ProjectID, pc.ProjectName, pc.Kind, pc.Assets, pc.Linked,
				pc.RatePercent, pc.AvgConfidence)
		}
		_ = w.Flush()
	}

	renderSamples(out, "High-confidence samples (>= 0.9):", r.HighConfidence)
	renderSamples(out, "Low-confidence samples (< 0.7):", r.LowConfidence)

	if len(r.Unlinked) > 0 {
		_, _ = fmt.Fprintln(out, "\nUnlinked planning assets:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PROJECT\tKIND\tCODE\tGPS")
		for _, u := range r.Unlinked {
			gps := "no"
			if u.HasCoords {
				gps = "yes"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ProjectID, u.Kind, u.Code, gps)
		}
		_ = w.Flush()
	}
}

func renderSamples(out io.Writer, title string, samples []Sample) {
	if len(samples) == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "\n%s\n", title)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROJECT\tPLANNING\tFIELD\tTYPE\tCONF\tDIST")
	for _, s := range samples {
		dist := "-"
		if s.DistanceMeters != nil {
			dist = fmt.Sprintf("%.1fm", *s.DistanceMeters)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			s.ProjectID, s.PlanningCode, s.FieldCode, s.MatchType, s.Confidence, dist)
	}
	_ = w.Flush()
}

// RenderJSON writes the report as indented JSON.
func RenderJSON(out io.Writer, r *Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(r), "report: encode json")
}

// RenderYAML writes the report as YAML.
func RenderYAML(out io.Writer, r *Report) error {
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	return eris.Wrap(enc.Encode(r), "report: encode yaml")
}
