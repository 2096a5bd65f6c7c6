// Package handoff implements the two-phase contract with the external agent
// that writes articles or documentation.
//
// Phase one (Builder.Build) renders a completed run into a self-contained
// Markdown instruction document: a YAML metadata block, the video details,
// the requirements of the chosen variant, the JSON schema the agent must
// satisfy, the predefined response path and the full timestamped
// transcript. Every build writes a new document; a previous handoff path is
// never reused. The article variant asks for one article; the docs variant
// asks for a Docusaurus section of several pages.
//
// Phase two reads the JSON the agent saved at the response path. LoadArticle
// and LoadDocs check it against the embedded schema, the transcript's time
// range and the requested shape. Builder.ExportDocs writes the pages of a
// checked documentation structure along with its sidebar index.
package handoff
