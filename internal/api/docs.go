package api

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/auracap/internal/relay"
)

// docsHTML renders the OpenAPI document. The overview pane shows the
// description built by apiDescription.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>auracap: captured call inspector</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0;">
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    hideSchemas
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

// apiDescription documents the message channel on top of the generated
// operations: the accepted message types and the push feeds.
func apiDescription(msgTypes []string) string {
	var b strings.Builder
	b.WriteString("auracap records the server actions of Lightning tabs in an attached browser ")
	b.WriteString("and answers inspector messages about them.\n\n")

	b.WriteString("## Message channel\n\n")
	b.WriteString("`POST /api/v1/messages` takes `{\"type\", \"payload\"}` and returns ")
	b.WriteString("`{\"status\":\"success\"|\"error\", \"payload\", \"message\"}`. ")
	b.WriteString("Tab-scoped types read the originating tab from the `X-Tab-ID` header. ")
	b.WriteString("The same frames, plus a `requestId` and optional `tabId`, are accepted on `GET /ws`.\n\n")

	b.WriteString("Accepted types:\n\n")
	for _, t := range msgTypes {
		fmt.Fprintf(&b, "- `%s`\n", t)
	}

	b.WriteString("\n## Feeds\n\n")
	fmt.Fprintf(&b, "`GET /api/v1/events` streams server-sent events named `%s` and `%s`. ", relay.FeedCalls, relay.FeedSettings)
	fmt.Fprintf(&b, "Narrow it with `?feeds=%s`. `GET /ws?feeds=...` delivers the same events as `{\"event\", \"data\"}` frames.\n", relay.FeedCalls)
	return b.String()
}
