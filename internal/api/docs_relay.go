package api

const relayDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>WebSocket Protocol | Box Office Relay</title>
  <style>
    *, *::before, *::after { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
      display: flex;
      flex-direction: column;
      min-height: 100vh;
    }

    a { color: #58a6ff; text-decoration: none; }
    a:hover { text-decoration: underline; }

    /* ── top nav ── */
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
      flex-shrink: 0;
    }
    nav .brand {
      font-weight: 600;
      font-size: 15px;
      color: #e6edf3;
    }
    nav .sep { color: #484f58; }
    nav .current { color: #e6edf3; font-weight: 500; }
    nav .back { font-size: 13px; }

    /* ── layout ── */
    .layout {
      display: flex;
      flex: 1;
      max-width: 1100px;
      width: 100%;
      margin: 0 auto;
      padding: 0 16px;
    }

    /* ── sidebar ── */
    aside {
      width: 220px;
      flex-shrink: 0;
      padding: 32px 16px 32px 0;
      position: sticky;
      top: 0;
      height: calc(100vh - 48px);
      overflow-y: auto;
    }
    aside h4 {
      margin: 0 0 8px;
      font-size: 11px;
      font-weight: 600;
      text-transform: uppercase;
      letter-spacing: .08em;
      color: #8b949e;
    }
    aside ul {
      list-style: none;
      margin: 0 0 24px;
      padding: 0;
    }
    aside ul li a {
      display: block;
      padding: 4px 8px;
      border-radius: 4px;
      font-size: 13px;
      color: #8b949e;
    }
    aside ul li a:hover {
      background: #21262d;
      color: #c9d1d9;
      text-decoration: none;
    }

    /* ── main content ── */
    main {
      flex: 1;
      padding: 32px 0 64px 32px;
      border-left: 1px solid #21262d;
      min-width: 0;
    }

    h1 {
      margin: 0 0 8px;
      font-size: 28px;
      font-weight: 600;
      color: #e6edf3;
    }
    .subtitle {
      color: #8b949e;
      margin: 0 0 36px;
      font-size: 15px;
    }

    h2 {
      margin: 40px 0 12px;
      font-size: 18px;
      font-weight: 600;
      color: #e6edf3;
      padding-bottom: 8px;
      border-bottom: 1px solid #21262d;
    }
    h3 {
      margin: 28px 0 10px;
      font-size: 15px;
      font-weight: 600;
      color: #e6edf3;
    }

    p { margin: 0 0 12px; }

    /* ── method + path badge ── */
    .endpoint {
      display: inline-flex;
      align-items: center;
      gap: 10px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 10px 16px;
      margin-bottom: 20px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 14px;
    }
    .method {
      background: #1f6feb;
      color: #fff;
      font-weight: 700;
      font-size: 11px;
      padding: 2px 7px;
      border-radius: 4px;
      letter-spacing: .04em;
    }
    .path { color: #e6edf3; }

    /* ── tables ── */
    table {
      width: 100%;
      border-collapse: collapse;
      margin-bottom: 20px;
      font-size: 13px;
    }
    th {
      text-align: left;
      padding: 8px 12px;
      background: #161b22;
      color: #8b949e;
      font-weight: 600;
      border-bottom: 1px solid #30363d;
    }
    td {
      padding: 8px 12px;
      border-bottom: 1px solid #21262d;
      vertical-align: top;
    }
    tr:last-child td { border-bottom: none; }
    code {
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 12px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 3px;
      padding: 1px 5px;
      color: #e6edf3;
    }

    /* ── code blocks ── */
    pre {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 16px;
      overflow-x: auto;
      margin: 0 0 20px;
    }
    pre code {
      background: none;
      border: none;
      padding: 0;
      font-size: 13px;
      line-height: 1.6;
      color: #c9d1d9;
    }

    /* ── callout ── */
    .callout {
      background: #161b22;
      border-left: 3px solid #1f6feb;
      border-radius: 0 6px 6px 0;
      padding: 12px 16px;
      margin-bottom: 20px;
      font-size: 13px;
    }
    .callout.warning { border-color: #d29922; }
    .callout strong { color: #e6edf3; }

    /* ── feed cards ── */
    .feed-card {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 8px;
      padding: 16px 20px;
      margin-bottom: 14px;
    }
    .feed-card h3 { margin: 0 0 10px; font-size: 14px; }
    .feed-card code { font-size: 13px; }
    .feed-meta {
      display: flex;
      flex-wrap: wrap;
      gap: 8px;
      margin-bottom: 10px;
      font-size: 12px;
    }
    .feed-meta span { color: #8b949e; }
    .tag {
      background: #21262d;
      border: 1px solid #30363d;
      border-radius: 3px;
      padding: 1px 6px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 11px;
      color: #8b949e;
    }

    /* ── frame visualization ── */
    .frame-block {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 16px;
      margin-bottom: 20px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 13px;
      line-height: 1.8;
    }
    .frame-key { color: #79c0ff; }
    .frame-value { color: #a5d6ff; }
    .frame-comment { color: #484f58; }
  </style>
</head>
<body>

<nav>
  <span class="brand">Box Office Relay</span>
  <span class="sep">/</span>
  <span class="current">WebSocket Protocol</span>
  <a class="back" href="/docs">&larr; REST API Docs</a>
</nav>

<div class="layout">
  <aside>
    <h4>On this page</h4>
    <ul>
      <li><a href="#overview">Overview</a></li>
      <li><a href="#endpoint">Endpoint</a></li>
      <li><a href="#envelope">Envelope</a></li>
      <li><a href="#channels">Channels</a></li>
      <li><a href="#client">Client Messages</a></li>
      <li><a href="#heartbeat">Heartbeat</a></li>
      <li><a href="#close">Close Codes</a></li>
      <li><a href="#examples">Examples</a></li>
    </ul>
  </aside>

  <main>
    <h1>WebSocket Protocol</h1>
    <p class="subtitle">Live box-office figures for one movie per connection, shared upstream fetches, celebrations between viewers.</p>

    <h2 id="overview">Overview</h2>
    <p>
      Every connection subscribes to one movie id. The relay answers all subscribers of
      a movie from one cached upstream fetch and pushes a fresh copy on every refresh tick.
      Clients that stop answering heartbeats are closed with code <code>4000</code> and
      are expected to reconnect.
    </p>
    <div class="callout warning">
      <strong>Admission runs before the upgrade.</strong> An address over its request or
      connection ceiling gets a plain <code>429</code> with a JSON reason and no socket.
    </div>

    <h2 id="endpoint">Endpoint</h2>
    <div class="endpoint">
      <span class="method">GET</span>
      <span class="path">/ws</span>
    </div>
    <p>The upgrade takes no parameters. Send an <code>init</code> message to pick a movie.</p>

    <h2 id="envelope">Envelope</h2>
    <p>Every server frame is one JSON text frame:</p>
    <div class="frame-block">
      <span class="frame-key">channel</span> <span class="frame-value">"data" | "status" | "heartbeat" | "error" | "celebration"</span><br>
      <span class="frame-key">data</span> <span class="frame-value">channel payload</span><br>
      <span class="frame-key">timestamp</span> <span class="frame-value">unix milliseconds</span><br>
    </div>

    <h2 id="channels">Channels</h2>
    <div class="feed-card">
      <h3><code>data</code></h3>
      <p>The upstream payload for the subscribed movie, passed through unchanged. A failed fetch is cached and sent here as <code>{"error":"upstream fetch failed","message":...}</code>.</p>
    </div>
    <div class="feed-card">
      <h3><code>status</code></h3>
      <div class="feed-meta">
        <span>Status values:</span>
        <span class="tag">connected</span>
        <span class="tag">metrics</span>
        <span class="tag">disconnected</span>
      </div>
      <p><code>connected</code> follows the upgrade. <code>metrics</code> follows every <code>init</code> and carries the live connection count. <code>disconnected</code> precedes a close the server initiates (1012, 4000) and carries a <code>reason</code>.</p>
    </div>
    <div class="feed-card">
      <h3><code>heartbeat</code></h3>
      <p><code>{"type":"ping","metrics":{"active":..,"total":..,"timestamp":..}}</code>. Answer with a <code>pong</code>.</p>
    </div>
    <div class="feed-card">
      <h3><code>error</code></h3>
      <div class="feed-meta">
        <span>Codes:</span>
        <span class="tag">MALFORMED_MESSAGE</span>
        <span class="tag">UNKNOWN_TYPE</span>
        <span class="tag">MISSING_MOVIE_ID</span>
        <span class="tag">UPSTREAM_FAILURE</span>
        <span class="tag">RATE_LIMITED</span>
      </div>
      <p>The connection stays open after an error frame.</p>
    </div>
    <div class="feed-card">
      <h3><code>celebration</code></h3>
      <p><code>{"movieId":..,"timestamp":..}</code> sent to every other viewer, on this instance and on peers sharing the pub/sub backend.</p>
    </div>

    <h2 id="client">Client Messages</h2>
    <pre><code>{"type":"init","movieId":"1294273","timestamp":1700000000000}
{"type":"pong","timestamp":1700000000000}
{"type":"celebration","movieId":"1294273"}</code></pre>
    <p><code>movieId</code> may be a string or a number. An empty <code>init</code> subscribes to the default movie.</p>

    <h2 id="heartbeat">Heartbeat</h2>
    <p>
      The relay pings every 30s. A connection silent for 35s is closed with
      <code>4000</code>. Any client frame counts as activity.
    </p>

    <h2 id="close">Close Codes</h2>
    <table>
      <thead>
        <tr><th>Code</th><th>Meaning</th><th>Reconnect</th></tr>
      </thead>
      <tbody>
        <tr><td><code>1000</code></td><td>normal close</td><td>no</td></tr>
        <tr><td><code>1001</code></td><td>going away</td><td>no</td></tr>
        <tr><td><code>1012</code></td><td>relay restarting</td><td>yes</td></tr>
        <tr><td><code>4000</code></td><td>heartbeat timeout</td><td>yes</td></tr>
      </tbody>
    </table>

    <h2 id="examples">Examples</h2>
    <h3>Browser</h3>
    <pre><code>const ws = new WebSocket('ws://127.0.0.1:8787/ws');
ws.onopen = () =&gt; ws.send(JSON.stringify({type: 'init', movieId: '1294273', timestamp: Date.now()}));
ws.onmessage = (e) =&gt; {
  const msg = JSON.parse(e.data);
  if (msg.channel === 'heartbeat') ws.send(JSON.stringify({type: 'pong', timestamp: Date.now()}));
  if (msg.channel === 'data') console.log(msg.data);
};</code></pre>
    <h3>CLI</h3>
    <pre><code>WATCH_MOVIE_ID=1294273 boxoffice_watch</code></pre>
    <h3>Polling fallback</h3>
    <pre><code>curl -i 'http://127.0.0.1:8787/api/v1/boxoffice?movieId=1294273'</code></pre>
  </main>
</div>
</body>
</html>`
