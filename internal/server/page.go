package server

import (
	"fmt"
	"time"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"

	"github.com/loykin/auditweb/internal/report"
)

type pageData struct {
	BasePath     string
	Script       string
	ScriptExists bool
	ReportDir    string
	Reports      []report.Report
}

const pageCSS = `
body{font-family:system-ui,sans-serif;max-width:960px;margin:2rem auto;padding:0 1rem;color:#1f2328}
.status{padding:.5rem .75rem;border-radius:6px;display:inline-block}
.status.ok{background:#dafbe1}.status.missing{background:#ffebe9}
button{margin-right:.5rem;padding:.4rem .9rem}
pre{background:#f6f8fa;padding:1rem;overflow:auto;max-height:480px;white-space:pre-wrap}
table{border-collapse:collapse;width:100%}td,th{text-align:left;padding:.25rem .5rem;border-bottom:1px solid #d0d7de}
`

// pageScript posts to the JSON endpoints and renders the reply in place.
const pageScript = `
const base = document.body.dataset.base;
const out = document.getElementById("output");
const msg = document.getElementById("message");
async function post(path) {
  msg.textContent = "Working...";
  try {
    const resp = await fetch(base + path, {method: "POST"});
    const data = await resp.json();
    return {status: resp.status, data};
  } catch (e) {
    return {status: 0, data: {ok: false, message: String(e)}};
  }
}
document.getElementById("run").addEventListener("click", async () => {
  out.textContent = "";
  const {data} = await post("/run");
  out.textContent = data.output || "";
  msg.textContent = data.ok
    ? "Audit finished. Log: " + data.log_path
    : (data.message || "Audit failed.") + (data.return_code !== undefined ? " (return code " + data.return_code + ")" : "");
});
document.getElementById("clear").addEventListener("click", async () => {
  if (!confirm("Delete every report log?")) return;
  const {data} = await post("/clear-reports");
  msg.textContent = "Deleted " + data.deleted + " report(s).";
  document.getElementById("reports").replaceChildren();
});
`

func indexPage(d pageData) Node {
	status := P(Class("status missing"), Text(fmt.Sprintf("Audit script not found at %s", d.Script)))
	if d.ScriptExists {
		status = P(Class("status ok"), Text(fmt.Sprintf("Audit script ready: %s", d.Script)))
	}

	return Doctype(HTML(
		Lang("en"),
		Head(
			Meta(Charset("utf-8")),
			Meta(Name("viewport"), Content("width=device-width, initial-scale=1")),
			TitleEl(Text("System Audit")),
			StyleEl(Raw(pageCSS)),
		),
		Body(
			Data("base", d.BasePath),
			Data("script-exists", fmt.Sprintf("%t", d.ScriptExists)),
			H1(Text("System Audit")),
			status,
			Div(
				Button(ID("run"), Type("button"), If(!d.ScriptExists, Disabled()), Text("Run audit")),
				Button(ID("clear"), Type("button"), Text("Clear reports")),
			),
			P(ID("message")),
			Pre(ID("output")),
			H2(Text("Reports")),
			P(Text("Directory: "+d.ReportDir)),
			Table(
				THead(Tr(Th(Text("File")), Th(Text("Size")), Th(Text("Modified")))),
				TBody(ID("reports"), Map(d.Reports, reportRow)),
			),
			Script(Raw(pageScript)),
		),
	))
}

func reportRow(r report.Report) Node {
	return Tr(
		Td(Text(r.Name)),
		Td(Text(fmt.Sprintf("%d B", r.Size))),
		Td(Text(r.Modified.Format(time.DateTime))),
	)
}
