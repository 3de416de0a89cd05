package mcpserver

// TagSyntax describes how file name tags become asset metadata.
const TagSyntax = `# File Name Tag Syntax

Any ` + "`{...}`" + ` segment in a file or folder name is parsed into metadata for
that asset. Tags are stripped from output names:
` + "`hero{nc}.png`" + ` is written as ` + "`hero.png`" + `.

## Forms

| Segment            | Metadata                         |
|--------------------|----------------------------------|
| ` + "`{nc}`" + `             | ` + "`nc: true`" + `                       |
| ` + "`{w=300}`" + `          | ` + "`w: 300`" + ` (integers and floats are coerced) |
| ` + "`{lang=en}`" + `        | ` + "`lang: \"en\"`" + `                     |
| ` + "`{sizes=1x&2x}`" + `    | ` + "`sizes: [\"1x\", \"2x\"]`" + `             |

Several segments may appear in one name: ` + "`logo{w=64}{nc}.svg`" + `.

## Inheritance

Tags on a folder apply to everything below it. A file's own tags win over
inherited ones. Per-path metadata from ` + "`asset_settings`" + ` in the config never
overrides a tag written in the file name.

## Built-in tags

- ` + "`copy`" + `: skip every stage and copy the file unchanged.
- ` + "`nc`" + `: do not emit gzip/zstd variants.
- ` + "`nh`" + `: keep the original name (no content hash suffix).

Built-in tags are internal: they never appear in ` + "`manifest.json`" + `.
`
