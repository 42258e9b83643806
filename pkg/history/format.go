package history

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"sigs.k8s.io/yaml"
)

func WriteYAML(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	out, err := yaml.Marshal(records)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func WriteTable(w io.Writer, records []Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tTARGET\tARCHIVE\tSIZE\tTRANSPORT\tSTATUS")
	for _, r := range records {
		status := r.Status
		if r.Error != "" {
			status = fmt.Sprintf("%s (%s)", r.Status, r.Error)
		}
		fmt.Fprintf(tw, "%s\t%s@%s:%s\t%s\t%s\t%s\t%s\n",
			r.Time.Local().Format("2006-01-02 15:04"),
			r.User, r.Host, r.RemoteDir,
			r.Archive,
			humanize.IBytes(uint64(r.Size)),
			r.Transport,
			status,
		)
	}
	return tw.Flush()
}
