// Package ytdlp fetches media for the pipeline's fetch stage.
//
// Remote references are downloaded with yt-dlp, whose single-JSON info dump
// supplies the title, duration and uploader metadata. Local references are
// copied into the run's work directory and probed with ffprobe. All failures
// are tagged with services.ErrFetch.
package ytdlp
