package cdpilot

const (
	// setAttributeJS is a javascript snippet that sets the value of the specified
	// node, and returns the value.
	setAttributeJS = `function setAttribute(n, v) {
		this[n] = v;
		if (n === 'value') {
			this.dispatchEvent(new Event('input', { bubbles: true }));
			this.dispatchEvent(new Event('change', { bubbles: true }));
		}
		return this[n];
	}`

	// clickJS dispatches a real mouse click sequence on the element, rather
	// than just calling the DOM click() method, so handlers listening for
	// mousedown/mouseup also fire.
	clickJS = `function click() {
		const r = this.getBoundingClientRect();
		const x = r.left + r.width / 2, y = r.top + r.height / 2;
		for (const type of ['mousedown', 'mouseup', 'click']) {
			this.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, clientX: x, clientY: y }));
		}
		return true;
	}`

	// isVisibleJS reports whether an element is visible: not hidden via
	// computed display/visibility, and occupying non-zero layout space.
	isVisibleJS = `function isVisible() {
		const s = window.getComputedStyle(this);
		if (s.display === 'none' || s.visibility === 'hidden') {
			return false;
		}
		return Boolean(this.offsetWidth || this.offsetHeight || this.getClientRects().length);
	}`

	// selectOptionJS sets a <select>'s value to the given option value,
	// dispatching input/change so framework bindings observe it.
	selectOptionJS = `function selectOption(v) {
		this.value = v;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
		return this.value;
	}`
)
