package schedule

import "time"

// outputTimeLayout renders 24-hour time plus three-letter weekday and month,
// e.g. "21-30-05-Tue-Aug".
const outputTimeLayout = "15-04-05-Mon-Jan"

// OutputFileName renders the capture file name contract:
// "[<prefix>-]HH-MM-SS-DDD-MMM.<ext>" from the job's start time.
func OutputFileName(prefix string, startedAt time.Time, ext string) string {
	name := startedAt.Format(outputTimeLayout)
	if prefix != "" {
		name = prefix + "-" + name
	}
	if ext != "" {
		name += "." + ext
	}
	return name
}

// ThumbnailFileName is the sidecar thumbnail for a capture file.
func ThumbnailFileName(prefix string, startedAt time.Time) string {
	return OutputFileName(prefix, startedAt, "jpg")
}
