package probe

// observerScript installs the in-page metric collectors. It is registered
// for every new document and evaluated once immediately, so a reload during
// the session re-arms the observers. Installation is guarded to survive
// double evaluation.
const observerScript = `(() => {
	if (window.__perfcheck) { return; }
	const state = {
		lcp: null, lcpElement: "",
		cls: 0, clsSources: [],
		inp: null, interactions: [],
		longTasks: { count: 0, total: 0, max: 0 },
		observers: [],
		stopped: false
	};

	const describe = (node) => {
		if (!node || !node.tagName) { return ""; }
		let sel = node.tagName.toLowerCase();
		if (node.id) { sel += "#" + node.id; }
		else if (node.className && typeof node.className === "string") {
			const cls = node.className.trim().split(/\s+/)[0];
			if (cls) { sel += "." + cls; }
		}
		return sel;
	};

	const observe = (type, cb) => {
		try {
			const obs = new PerformanceObserver(cb);
			obs.observe({ type, buffered: true });
			state.observers.push(obs);
		} catch (e) { /* entry type unsupported */ }
	};

	observe("largest-contentful-paint", (list) => {
		const entries = list.getEntries();
		const last = entries[entries.length - 1];
		if (last) {
			state.lcp = last.startTime;
			state.lcpElement = describe(last.element);
		}
	});

	observe("layout-shift", (list) => {
		for (const entry of list.getEntries()) {
			if (entry.hadRecentInput) { continue; }
			state.cls += entry.value;
			const source = entry.sources && entry.sources[0];
			state.clsSources.push({
				selector: describe(source && source.node),
				value: entry.value
			});
		}
	});

	observe("event", (list) => {
		for (const entry of list.getEntries()) {
			if (entry.interactionId) {
				state.interactions.push(entry.duration);
				if (state.inp === null || entry.duration > state.inp) {
					state.inp = entry.duration;
				}
			}
		}
	});

	observe("longtask", (list) => {
		for (const entry of list.getEntries()) {
			state.longTasks.count += 1;
			state.longTasks.total += entry.duration;
			if (entry.duration > state.longTasks.max) {
				state.longTasks.max = entry.duration;
			}
		}
	});

	window.__perfcheck = {
		snapshot: () => {
			const out = {
				lcp: state.lcp, lcp_element: state.lcpElement,
				cls: state.cls, cls_sources: state.clsSources,
				inp: state.inp, interactions: state.interactions,
				long_tasks: state.longTasks
			};
			const nav = performance.getEntriesByType("navigation")[0];
			if (nav) {
				out.ttfb = nav.responseStart;
				out.dom_content_loaded = nav.domContentLoadedEventEnd;
				out.load = nav.loadEventEnd;
			}
			const paints = performance.getEntriesByType("paint");
			for (const p of paints) {
				if (p.name === "first-contentful-paint") { out.fcp = p.startTime; }
			}
			return out;
		},
		stop: () => {
			if (state.stopped) { return; }
			state.stopped = true;
			for (const obs of state.observers) {
				try { obs.disconnect(); } catch (e) { /* already gone */ }
			}
		}
	};
})();`
