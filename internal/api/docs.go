package api

// docsHTML renders the OpenAPI reference under a small nav bar that links the
// websocket protocol page and the live read-outs.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Box Office Relay API</title>
  <link rel="stylesheet" href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    html, body { height: 100%; margin: 0; background: #0d1117; }
    body { display: flex; flex-direction: column; }
    nav.relay-nav {
      display: flex;
      align-items: center;
      gap: 18px;
      padding: 8px 20px;
      border-bottom: 1px solid #30363d;
      font: 13px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    }
    nav.relay-nav strong { color: #e6edf3; margin-right: auto; }
    nav.relay-nav a { color: #58a6ff; text-decoration: none; }
    nav.relay-nav a:hover { text-decoration: underline; }
    main { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <nav class="relay-nav">
    <strong>Box Office Relay</strong>
    <a href="/docs/relay">WebSocket protocol</a>
    <a href="/api/v1/metrics">Metrics</a>
    <a href="/healthz">Health</a>
  </nav>
  <main>
    <elements-api
      apiDescriptionUrl="/openapi.json"
      router="hash"
      layout="sidebar"
      hideSchemas
      darkMode
    />
  </main>
</body>
</html>`
