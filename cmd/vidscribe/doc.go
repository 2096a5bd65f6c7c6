// Command vidscribe turns a video reference into a transcript and an article
// handoff document for an external writing agent.
//
// The run subcommand drives fetch, transcribe and render-handoff against the
// local cache; the remaining subcommands inspect the cache and run history,
// check the external tools, and validate the article an agent writes back.
package main
