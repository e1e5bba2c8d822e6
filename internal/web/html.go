package web

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Footfall Dashboard</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/dashboard.css">
    <style>
        body { font-family: system-ui, sans-serif; margin: 0; background: #f3f4f6; color: #111827; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 16px 24px; background: #fff; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 16px; padding: 24px; }
        .card { background: #fff; border-radius: 8px; padding: 16px; }
        .value { font-size: 28px; font-weight: 700; }
        .label { color: #6b7280; font-size: 13px; }
        .error { color: #b91c1c; padding: 0 24px; }
        iframe { width: 100%; height: 440px; border: 0; background: #fff; border-radius: 8px; }
        .charts { padding: 0 24px 24px; display: grid; gap: 16px; }
        ul#events { list-style: none; padding: 0 24px; }
    </style>
</head>
<body>
    <div class="header">
        <div><strong>Footfall Dashboard</strong> <span class="label" id="updated">Waiting for data...</span></div>
        <div>
            <select id="filter">
                <option value="today">Today</option>
                <option value="yesterday">Yesterday</option>
                <option value="this-week">This week</option>
                <option value="this-month">This month</option>
            </select>
            <a href="/roi">ROI editor</a>
        </div>
    </div>
    <p class="error" id="error"></p>
    <div class="grid">
        <div class="card"><div class="value" id="entries">-</div><div class="label">Entries</div><div class="label" id="comparison"></div></div>
        <div class="card"><div class="value" id="exits">-</div><div class="label">Exits</div></div>
        <div class="card"><div class="value" id="occupancy">-</div><div class="label">Current occupancy</div></div>
        <div class="card"><div class="value" id="customers">-</div><div class="label">Total customers</div></div>
    </div>
    <div class="charts">
        <iframe src="/charts/overview" title="Activity overview"></iframe>
        <iframe src="/charts/hourly" title="Hourly analysis"></iframe>
    </div>
    <ul id="events"></ul>
    <script>
        const $ = (id) => document.getElementById(id);
        function render(st) {
            $('error').textContent = st.error || '';
            if (st.stats) {
                $('entries').textContent = st.stats.entries;
                $('exits').textContent = st.stats.exits;
                $('occupancy').textContent = st.stats.current_occupancy;
                $('customers').textContent = st.stats.total_customers;
            }
            $('comparison').textContent = st.comparison || '';
            if (st.last_updated) $('updated').textContent = 'Updated ' + new Date(st.last_updated).toLocaleTimeString();
            $('events').innerHTML = '';
            (st.events || []).slice(0, 20).forEach((e) => {
                const li = document.createElement('li');
                li.textContent = e.timestamp + ' ' + e.event_type + ' ' + (e.customer_name || e.person_name || '');
                $('events').appendChild(li);
            });
        }
        const source = new EventSource('/api/dashboard/stream');
        source.addEventListener('state', (ev) => render(JSON.parse(ev.data)));
        $('filter').addEventListener('change', (ev) => {
            fetch('/api/dashboard/filter', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ filter: ev.target.value }),
            });
        });
    </script>
</body>
</html>
`

const roiHTML = `<!DOCTYPE html>
<html>
<head>
    <title>ROI Configuration</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/dashboard.css">
    <style>
        body { font-family: system-ui, sans-serif; margin: 24px; color: #111827; }
        #canvas { width: 100%; max-width: 960px; aspect-ratio: 16 / 9; background: #000; cursor: crosshair; display: block; }
        .toolbar button.active { background: #10b981; color: #fff; }
        .status { margin: 8px 0; color: #6b7280; }
        .error { color: #b91c1c; }
    </style>
</head>
<body>
    <h1>ROI Configuration</h1>
    <div class="toolbar">
        <button data-mode="none" class="active">Select</button>
        <button data-mode="line">Draw line</button>
        <button data-mode="polygon">Draw area</button>
        <button data-action="clear-line">Clear line</button>
        <button data-action="clear-polygon">Clear area</button>
        <button data-action="reset">Reset</button>
        <button data-action="reload">Reload</button>
        <button data-action="save">Save</button>
    </div>
    <div class="status" id="status">Connecting...</div>
    <img id="canvas" alt="ROI editor canvas" draggable="false">
    <script>
        const canvas = document.getElementById('canvas');
        const status = document.getElementById('status');
        let ws;
        function show(st, err) {
            let text = st ? st.status + (st.unsaved ? ' (unsaved changes)' : '') : '';
            if (st && st.warning) text += ' ' + st.warning;
            if (st && st.error) text += ' ' + st.error;
            if (st && st.save_error) text += ' save failed: ' + st.save_error;
            if (err) text += ' ' + err;
            status.textContent = text;
            status.className = 'status' + (err || (st && st.error) ? ' error' : '');
        }
        function send(msg) { if (ws && ws.readyState === 1) ws.send(JSON.stringify(msg)); }
        function size() { const r = canvas.getBoundingClientRect(); return { width: r.width, height: r.height }; }
        function pointer(type, ev) {
            const r = canvas.getBoundingClientRect();
            send({ type, x: ev.clientX - r.left, y: ev.clientY - r.top, canvas: size() });
        }
        fetch('/api/roi/sessions', { method: 'POST' }).then((r) => r.json()).then((st) => {
            canvas.src = '/api/roi/sessions/' + st.id + '/stream';
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            ws = new WebSocket(proto + '//' + location.host + '/api/roi/sessions/' + st.id + '/ws');
            ws.onopen = () => send({ type: 'canvas', canvas: size() });
            ws.onmessage = (ev) => { const m = JSON.parse(ev.data); show(m.state, m.error); };
            window.addEventListener('resize', () => send({ type: 'canvas', canvas: size() }));
            window.addEventListener('beforeunload', () => fetch('/api/roi/sessions/' + st.id, { method: 'DELETE', keepalive: true }));
        });
        canvas.addEventListener('mousedown', (ev) => pointer('down', ev));
        canvas.addEventListener('mousemove', (ev) => { if (ev.buttons) pointer('move', ev); });
        canvas.addEventListener('mouseup', (ev) => pointer('up', ev));
        canvas.addEventListener('mouseleave', (ev) => pointer('leave', ev));
        document.querySelectorAll('[data-mode]').forEach((b) => b.addEventListener('click', () => {
            document.querySelectorAll('[data-mode]').forEach((o) => o.classList.toggle('active', o === b));
            send({ type: 'mode', mode: b.dataset.mode });
        }));
        document.querySelectorAll('[data-action]').forEach((b) => b.addEventListener('click', () => {
            const a = b.dataset.action;
            if (a === 'clear-line') send({ type: 'clear', shape: 'line' });
            else if (a === 'clear-polygon') send({ type: 'clear', shape: 'polygon' });
            else send({ type: a });
        }));
    </script>
</body>
</html>
`
