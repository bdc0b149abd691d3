package config

// SampleConfig is written by `tabtint config init`. Every value matches
// Default() except the package and path tables, which are examples.
const SampleConfig = `# tabtint configuration
#
# Colors are palette names or, in [palette] / [light_palette], "#rrggbb".

# dark | light | system
theme = "dark"

# What unknown color names resolve to.
default_color = "#feffff"

# Colors for processes no rule below recognizes.
fallback_color = "red"

# Truncate tab titles to this many terminal cells (0 = no limit).
max_title_width = 0

# Extra or replacement palette entries.
[palette]
# "teal" = "#008080"

# Applied on top of [palette] when the theme resolves to light.
[light_palette]
# "yellow" = "#b59f00"

[interpreter]
jobs = ["Python", "python", "python3"]
label = "PYTHON"
color = "dark red"
env_placeholder = "?env?"

# The first package whose name appears anywhere in the command line wins.
[[interpreter.packages]]
name = "astra"
color = "blue"

[[interpreter.packages]]
name = "builder"
color = "dark teal"

[log_viewer]
job = "lnav"
label = "LNAV"
color = "orange"

[shell]
job = "zsh"
fallback_color = "green"

# Checked in order; list nested directories before their parents.
[[shell.paths]]
prefix = "~/go/src/github.com/NetApp-Polaris/polaris/whelp"
color = "yellow"

[[shell.paths]]
prefix = "~/go/src/github.com/NetApp-Polaris/polaris"
color = "purple"

[watch]
timeout = "300s"
poll_interval = "1s"
occurrences = 1
# fail | warn
on_timeout = "fail"

[launch]
color = "#006e24"
command = "/bin/sh"
cols = 100
rows = 20
settle_delay = "1s"

[daemon]
interval = "2s"
concurrency = 4
env_option = "@virtual_env"
apply_per_second = 20

[logs]
debug_level = "info"
debug_format = "json"
debug_max_mb = 10
debug_backups = 5
debug_retention_days = 10
debug_compress = false
`
