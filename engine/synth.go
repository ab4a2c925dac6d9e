package engine

// MemoryModule builds a module whose only content is an exported memory.
// A shared memory always carries a maximum.
func MemoryModule(exportName string, minPages, maxPages uint32, shared bool) []byte {
	var wasm []byte

	// Magic and version
	wasm = append(wasm, 0x00, 0x61, 0x73, 0x6d)
	wasm = append(wasm, 0x01, 0x00, 0x00, 0x00)

	// Memory section
	var limits []byte
	if shared {
		limits = append(limits, 0x03)
	} else {
		limits = append(limits, 0x01)
	}
	limits = append(limits, encodeULEB128(minPages)...)
	limits = append(limits, encodeULEB128(maxPages)...)

	memSection := append([]byte{0x01}, limits...)
	wasm = appendSection(wasm, 0x05, memSection)

	// Export section
	var exports []byte
	exports = append(exports, 0x01)
	exports = append(exports, encodeULEB128(uint32(len(exportName)))...)
	exports = append(exports, exportName...)
	exports = append(exports, 0x02, 0x00) // memory 0
	wasm = appendSection(wasm, 0x07, exports)

	return wasm
}

func appendSection(wasm []byte, id byte, content []byte) []byte {
	wasm = append(wasm, id)
	wasm = append(wasm, encodeULEB128(uint32(len(content)))...)
	return append(wasm, content...)
}

func encodeULEB128(v uint32) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		result = append(result, b)
		if v == 0 {
			break
		}
	}
	return result
}
