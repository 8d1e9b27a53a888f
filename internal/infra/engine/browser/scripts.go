package browser

import "fmt"

const responseSelector = `[data-test-id*='response' i], [data-testid*='response' i], .response-container, .markdown, message-content`

const previewSelector = `img[src^='blob:'], [data-testid*='attachment' i], [data-test-id*='attachment' i], .file-preview img`

const composerSelector = `div[contenteditable='true']`

const fileInputSelector = `input[type='file']`

var countResponsesJS = fmt.Sprintf(`document.querySelectorAll(%q).length`, responseSelector)

var lastResponseHTMLJS = fmt.Sprintf(`(() => {
	const nodes = document.querySelectorAll(%q);
	return nodes.length ? nodes[nodes.length - 1].innerHTML : "";
})()`, responseSelector)

const stopVisibleJS = `(() => {
	const re = /Stop|Zatrzymaj|Anuluj|Cancel|Stop generating/i;
	return Array.from(document.querySelectorAll("button, [role='button']")).some(b => {
		const label = (b.getAttribute("aria-label") || "") + " " + (b.innerText || "");
		return b.offsetParent !== null && re.test(label);
	});
})()`

const clickSendJS = `(() => {
	const re = /(wyślij|wyslij|prześlij|przeslij|send)/i;
	for (const b of document.querySelectorAll("button[aria-label], [role='button'][aria-label]")) {
		if (b.offsetParent !== null && re.test(b.getAttribute("aria-label"))) {
			b.click();
			return true;
		}
	}
	return false;
})()`

var openUploadJS = fmt.Sprintf(`(() => {
	if (document.querySelector(%[1]q)) return true;
	const re = /(upload|attach|add|file|image|photo|prześlij|załącz|dodaj|plik|obraz)/i;
	for (const b of document.querySelectorAll("button, [role='button']")) {
		const label = (b.getAttribute("aria-label") || "") + " " + (b.getAttribute("title") || "");
		if (b.offsetParent !== null && re.test(label)) {
			b.click();
			break;
		}
	}
	return !!document.querySelector(%[1]q);
})()`, fileInputSelector)

var fileInputPresentJS = fmt.Sprintf(`!!document.querySelector(%q)`, fileInputSelector)
