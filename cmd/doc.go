// Package cmd defines the CLI commands of the ershoufang executable.
//
// Architecture overview:
//   - Session: internal/browser owns one page session for the whole run, either a visible Chromedp window
//     (the default, so an operator can solve challenges in it) or a Colly-backed static session for
//     server-rendered pages and tests. Cookies from config are injected before the first page.
//   - Acquisition: internal/fetcher runs the bounded load-and-poll protocol per page. A challenge hands control
//     to operator confirmation with no time limit; content beats a timed-out poll, and a timed-out poll sends the
//     stop-loading signal and reads whatever rendered.
//   - Confirmation: internal/operator confirms challenges from the console (Enter) and, when operator.http_addr is
//     set, from POST /v1/challenge/confirm on a small chi server that also serves /healthz and /metrics.
//   - Extraction & control: internal/extract turns markup into listing records; internal/crawl walks the page
//     range, pauses a random politeness delay between pages, stops at the first page without listings and
//     always releases the session.
//   - Output: internal/sink writes the collected records once, at the end, to a UTF-8 BOM CSV, a GCS object, or
//     a Postgres table. A run summary is published to Pub/Sub when notify.pubsub_* is configured.
//
// Operational notes:
//   - Ctrl-C (or SIGTERM) stops after the current step; records collected so far are still written.
//   - Configuration: Viper reads defaults, an optional --config file, ERSHOUFANG_* env vars and flags, in rising
//     precedence. zap provides structured logging; every line carries the run id.
//
// Quick checklist:
//   - Run locally: go run . crawl --max-page 5 --output listings.csv
//   - Unattended: go run . crawl --headless --http-addr 127.0.0.1:8089 and confirm challenges with
//     curl -X POST localhost:8089/v1/challenge/confirm.
package cmd
